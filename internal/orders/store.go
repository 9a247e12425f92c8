package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
)

// maxTransactItems is DynamoDB's TransactWriteItems limit.
const maxTransactItems = 100

var (
	// ErrAlreadyExists means an order with the same order_number is already stored.
	ErrAlreadyExists = errors.New("order already exists")
	// ErrStatusMismatch means a conditional status transition did not apply.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrTooManyItems means the order does not fit in one write transaction.
	ErrTooManyItems = errors.New("too many order items for a single transaction")
)

// Store encapsulates operations on the orders and order_items tables.
type Store struct {
	client     aws.DynamoDBAPI
	tableName  string
	itemsTable string
	nowFunc    func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName, itemsTable string) *Store {
	return &Store{
		client:     client,
		tableName:  tableName,
		itemsTable: itemsTable,
		nowFunc:    time.Now,
	}
}

// Create atomically writes the order header and its items.
// The header put is guarded by attribute_not_exists(order_number), so a concurrent
// materialization of the same order number loses with ErrAlreadyExists.
func (s *Store) Create(ctx context.Context, order Order, items []OrderItem) error {
	if len(items)+1 > maxTransactItems {
		return ErrTooManyItems
	}

	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_number)"),
			},
		},
	}
	for _, it := range items {
		it.OrderID = order.OrderID
		m, err := attributevalue.MarshalMap(it)
		if err != nil {
			return fmt.Errorf("marshal order item %d: %w", it.Line, err)
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{TableName: &s.itemsTable, Item: m},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 &&
			awsValue(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("transact write order: %w", err)
	}
	return nil
}

// Get fetches an order header by order_number. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderNumber string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_number": &types.AttributeValueMemberS{Value: orderNumber},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetWithItems is Get plus the order's item rows.
func (s *Store) GetWithItems(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := s.Get(ctx, orderNumber)
	if err != nil || o == nil {
		return o, err
	}
	items, err := s.Items(ctx, o.OrderID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// Items returns the item rows of an order, ordered by line.
func (s *Store) Items(ctx context.Context, orderID string) ([]OrderItem, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                 &s.itemsTable,
		KeyConditionExpression:    awsString("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":oid": &types.AttributeValueMemberS{Value: orderID}},
	})
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	var items []OrderItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return items, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderNumber, expectedStatus, newStatus string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_number": &types.AttributeValueMemberS{Value: orderNumber},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// allowedTransitions lists the status moves an operator may make.
var allowedTransitions = map[string][]string{
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// CanTransition reports whether from -> to is a permitted status move.
func CanTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func awsString(s string) *string { return &s }

func awsValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
