package paymentlog

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
)

// Secondary indexes on the payment_logs table.
const (
	OrderIndex     = "m_payment_id-index"
	EventTypeIndex = "event_type-index"
)

// Store appends and queries payment log events. Rows are never updated or deleted.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a Store over tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Append writes ev with a fresh payment_id and timestamp.
func (s *Store) Append(ctx context.Context, ev Event) error {
	ev.PaymentID = uuid.NewString()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.nowFunc().UTC()
	}
	item, err := attributevalue.MarshalMap(ev)
	if err != nil {
		return fmt.Errorf("marshal payment log: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(payment_id)"),
	})
	if err != nil {
		return fmt.Errorf("put payment log: %w", err)
	}
	return nil
}

// Record appends ev and only logs a failure; audit writes never fail the caller.
func (s *Store) Record(ctx context.Context, ev Event) {
	if err := s.Append(ctx, ev); err != nil {
		log.Printf("[paymentlog] failed to record %s for %s: %v", ev.EventType, ev.MPaymentID, err)
	}
}

// ByOrder returns every event for an order number, oldest first.
func (s *Store) ByOrder(ctx context.Context, orderNumber string) ([]Event, error) {
	return s.query(ctx, OrderIndex, "m_payment_id", orderNumber)
}

// ByType returns every event of type t, oldest first.
func (s *Store) ByType(ctx context.Context, t EventType) ([]Event, error) {
	return s.query(ctx, EventTypeIndex, "event_type", string(t))
}

// All scans the whole table. Intended for reports over modest volumes.
func (s *Store) All(ctx context.Context) ([]Event, error) {
	var (
		events []Event
		start  map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan payment logs: %w", err)
		}
		var page []Event
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal payment logs: %w", err)
		}
		events = append(events, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sortByTime(events)
	return events, nil
}

func (s *Store) query(ctx context.Context, index, attr, value string) ([]Event, error) {
	var (
		events []Event
		start  map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                 &s.tableName,
			IndexName:                 &index,
			KeyConditionExpression:    awsString("#k = :v"),
			ExpressionAttributeNames:  map[string]string{"#k": attr},
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("query payment logs by %s: %w", attr, err)
		}
		var page []Event
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal payment logs: %w", err)
		}
		events = append(events, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sortByTime(events)
	return events, nil
}

func sortByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

func awsString(s string) *string { return &s }
