package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
	"github.com/imrishuroy/go-checkout-pipeline/internal/inventory"
)

// MaxQuantity is the per-line quantity ceiling.
const MaxQuantity = 999

var (
	ErrUnknownProduct  = errors.New("unknown product")
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 999")
	ErrCartFull        = errors.New("cart has too many lines")
)

// Catalog supplies the price and name captured when an item is added.
type Catalog interface {
	Get(ctx context.Context, productID string) (*inventory.Product, error)
}

// Store reads and writes cart rows and session aggregates.
type Store struct {
	client        aws.DynamoDBAPI
	itemsTable    string
	sessionsTable string
	catalog       Catalog
	nowFunc       func() time.Time
}

// NewStore returns a Store over the cart_items and cart_sessions tables.
func NewStore(client aws.DynamoDBAPI, itemsTable, sessionsTable string, catalog Catalog) *Store {
	return &Store{
		client:        client,
		itemsTable:    itemsTable,
		sessionsTable: sessionsTable,
		catalog:       catalog,
		nowFunc:       time.Now,
	}
}

// AddItem adds qty of a product to owner's cart, summing with an existing line.
func (s *Store) AddItem(ctx context.Context, owner Owner, productID string, qty int) (Item, error) {
	if qty < 1 || qty > MaxQuantity {
		return Item{}, ErrInvalidQuantity
	}
	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return Item{}, fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	current, err := s.Items(ctx, owner)
	if err != nil {
		return Item{}, err
	}
	existing := -1
	for i, it := range current {
		if it.ProductID == productID {
			existing = i
			break
		}
	}
	if existing < 0 && len(current) >= MaxLines {
		return Item{}, ErrCartFull
	}
	if existing >= 0 && current[existing].Quantity+qty > MaxQuantity {
		return Item{}, ErrInvalidQuantity
	}

	ownerAttr := "session_id"
	if owner.Kind == KindUser {
		ownerAttr = "user_id"
	}
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.itemsTable,
		Key:       itemKey(owner, productID),
		UpdateExpression: awsString("SET #n = :name, sku = :sku, price = :price, " + ownerAttr + " = :oid, " +
			"created_at = if_not_exists(created_at, :now), updated_at = :now ADD quantity :q"),
		ExpressionAttributeNames: map[string]string{"#n": "name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":  &types.AttributeValueMemberS{Value: product.Name},
			":sku":   &types.AttributeValueMemberS{Value: product.SKU},
			":price": &types.AttributeValueMemberN{Value: strconv.FormatFloat(product.Price, 'f', -1, 64)},
			":oid":   &types.AttributeValueMemberS{Value: owner.ID},
			":now":   &types.AttributeValueMemberS{Value: now},
			":q":     &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return Item{}, fmt.Errorf("add cart item: %w", err)
	}
	var it Item
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return Item{}, fmt.Errorf("unmarshal cart item: %w", err)
	}
	log.Printf("[cart] %s added %d x %s (now %d)", owner, qty, productID, it.Quantity)
	return it, nil
}

// RemoveItem deletes a line. Removing a missing line is not an error.
func (s *Store) RemoveItem(ctx context.Context, owner Owner, productID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.itemsTable,
		Key:       itemKey(owner, productID),
	})
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return nil
}

// Items returns owner's cart lines ordered by product id.
func (s *Store) Items(ctx context.Context, owner Owner) ([]Item, error) {
	var (
		items []Item
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.itemsTable,
			KeyConditionExpression: awsString("owner_key = :k"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":k": &types.AttributeValueMemberS{Value: owner.Key()},
			},
			ConsistentRead:    awsBool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query cart items: %w", err)
		}
		var page []Item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal cart items: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func itemKey(owner Owner, productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"owner_key":  &types.AttributeValueMemberS{Value: owner.Key()},
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
