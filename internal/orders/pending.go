package orders

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
)

// PendingStore persists pre-payment snapshots. Rows carry an expires_at TTL attribute;
// DynamoDB removes them lazily, so Get also treats an expired row as absent.
type PendingStore struct {
	client    aws.DynamoDBAPI
	tableName string
	ttl       time.Duration
	nowFunc   func() time.Time
}

// NewPendingStore returns a PendingStore whose rows live for ttl.
func NewPendingStore(client aws.DynamoDBAPI, tableName string, ttl time.Duration) *PendingStore {
	return &PendingStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		nowFunc:   time.Now,
	}
}

// Put stores p. The order number must be new.
func (s *PendingStore) Put(ctx context.Context, p PendingOrder) error {
	now := s.nowFunc()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.ExpiresAt == 0 && s.ttl > 0 {
		p.ExpiresAt = now.Add(s.ttl).Unix()
	}
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal pending order: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_number)"),
	})
	if err != nil {
		return fmt.Errorf("put pending order: %w", err)
	}
	return nil
}

// Get returns the pending order, or (nil, nil) if it is missing or expired.
func (s *PendingStore) Get(ctx context.Context, orderNumber string) (*PendingOrder, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_number": &types.AttributeValueMemberS{Value: orderNumber},
		},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get pending order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p PendingOrder
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pending order: %w", err)
	}
	if p.ExpiresAt > 0 && s.nowFunc().Unix() >= p.ExpiresAt {
		return nil, nil
	}
	return &p, nil
}

// Delete removes the pending order. Deleting a missing row is not an error.
func (s *PendingStore) Delete(ctx context.Context, orderNumber string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_number": &types.AttributeValueMemberS{Value: orderNumber},
		},
	})
	if err != nil {
		return fmt.Errorf("delete pending order: %w", err)
	}
	return nil
}
