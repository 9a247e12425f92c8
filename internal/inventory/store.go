// Package inventory tracks product stock in the products table.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
)

// ErrUnknownProduct means the product row does not exist.
var ErrUnknownProduct = errors.New("unknown product")

// Product is the slice of the catalog row the checkout pipeline reads.
type Product struct {
	ProductID string  `dynamodbav:"product_id" json:"product_id"`
	Name      string  `dynamodbav:"name" json:"name"`
	SKU       string  `dynamodbav:"sku" json:"sku"`
	Price     float64 `dynamodbav:"price" json:"price"`
	Stock     int     `dynamodbav:"stock" json:"stock"`
}

// Shortage describes a line that cannot be fulfilled from current stock.
type Shortage struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// Store reads and adjusts stock levels.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore returns a Store over the products table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Get returns a product, or (nil, nil) if it does not exist.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       productKey(productID),
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Shortages returns the requested lines (productID -> quantity) that exceed stock.
// Unknown products are reported with zero availability.
func (s *Store) Shortages(ctx context.Context, requested map[string]int) ([]Shortage, error) {
	_, short, err := s.Quote(ctx, requested)
	return short, err
}

// Quote loads the catalog rows for the requested lines and reports the shortages.
// Unknown products are absent from the returned map.
func (s *Store) Quote(ctx context.Context, requested map[string]int) (map[string]Product, []Shortage, error) {
	products := make(map[string]Product, len(requested))
	var short []Shortage
	for id, qty := range requested {
		p, err := s.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		available := 0
		if p != nil {
			products[id] = *p
			available = p.Stock
		}
		if available < qty {
			short = append(short, Shortage{ProductID: id, Requested: qty, Available: available})
		}
	}
	return products, short, nil
}

// DecrementStock subtracts qty from the product's stock. Stock may go negative when
// a paid order outruns inventory; the order still stands.
func (s *Store) DecrementStock(ctx context.Context, productID string, qty int) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       productKey(productID),
		UpdateExpression:          awsString("ADD stock :delta"),
		ConditionExpression:       awsString("attribute_exists(product_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":delta": &types.AttributeValueMemberN{Value: strconv.Itoa(-qty)}},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
		}
		return fmt.Errorf("decrement stock %s: %w", productID, err)
	}
	return nil
}

func productKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: id}}
}

func awsString(s string) *string { return &s }
