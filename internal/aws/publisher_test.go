package aws_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws/awstest"
)

func TestPublisher_Publish(t *testing.T) {
	q := &awstest.Queue{}
	p := aws.NewPublisher(q, "https://sqs.local/queue")

	err := p.Publish(context.Background(), map[string]string{"order_number": "ORD-1"}, map[string]string{"pf_payment_id": "pf-1", "empty": ""})
	require.NoError(t, err)
	require.Len(t, q.Bodies, 1)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(q.Bodies[0]), &got))
	assert.Equal(t, "ORD-1", got["order_number"])

	q.Err = errors.New("throttled")
	assert.Error(t, p.Publish(context.Background(), "x", nil))
}

func TestMetricEmitter_Record(t *testing.T) {
	m := &awstest.Metrics{}
	e := aws.NewMetricEmitter(m, "Checkout")

	require.NoError(t, e.Record(context.Background(), map[string]float64{"B": 2, "A": 1}, map[string]string{"Source": "webhook", "Empty": ""}))
	assert.Equal(t, []string{"A", "B"}, m.Names())
	require.Len(t, m.Data[0].Dimensions, 1)
	assert.False(t, m.Data[0].Timestamp.After(time.Now()))

	require.NoError(t, e.Count(context.Background(), "OrdersCreated", 1, nil))
	assert.Equal(t, []string{"A", "B", "OrdersCreated"}, m.Names())
	assert.Equal(t, cwtypes.StandardUnitCount, m.Data[2].Unit)

	require.NoError(t, e.Amount(context.Background(), "Revenue", 240.5, nil))
	require.Len(t, m.Data, 4)
	assert.Equal(t, cwtypes.StandardUnitNone, m.Data[3].Unit)
	assert.Equal(t, 240.5, *m.Data[3].Value)
}
