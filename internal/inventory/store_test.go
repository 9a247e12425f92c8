package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-pipeline/internal/aws/awstest"
)

func TestDecrementStock(t *testing.T) {
	mock := awstest.NewDynamo(map[string][]string{"products": {"product_id"}})
	mock.Seed(t, "products", Product{ProductID: "p1", Name: "Mug", SKU: "MUG-1", Price: 10, Stock: 5})
	s := NewStore(mock, "products")
	ctx := context.Background()

	require.NoError(t, s.DecrementStock(ctx, "p1", 2))
	p, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)

	err = s.DecrementStock(ctx, "ghost", 1)
	assert.ErrorIs(t, err, ErrUnknownProduct)
	assert.Equal(t, 1, mock.Len("products"), "unknown product must not be created")
}

func TestShortages(t *testing.T) {
	mock := awstest.NewDynamo(map[string][]string{"products": {"product_id"}})
	mock.Seed(t, "products", Product{ProductID: "p1", Stock: 1})
	mock.Seed(t, "products", Product{ProductID: "p2", Stock: 10})
	s := NewStore(mock, "products")

	got, err := s.Shortages(context.Background(), map[string]int{"p1": 2, "p2": 3, "p3": 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []Shortage{
		{ProductID: "p1", Requested: 2, Available: 1},
		{ProductID: "p3", Requested: 1, Available: 0},
	}, got)
}

func TestQuote(t *testing.T) {
	mock := awstest.NewDynamo(map[string][]string{"products": {"product_id"}})
	mock.Seed(t, "products", Product{ProductID: "p1", Name: "Mug", SKU: "MUG-1", Price: 120, Stock: 4})
	s := NewStore(mock, "products")

	products, short, err := s.Quote(context.Background(), map[string]int{"p1": 2, "ghost": 1})
	require.NoError(t, err)
	require.Contains(t, products, "p1")
	assert.Equal(t, 120.0, products["p1"].Price)
	assert.NotContains(t, products, "ghost")
	assert.Equal(t, []Shortage{{ProductID: "ghost", Requested: 1, Available: 0}}, short)
}
