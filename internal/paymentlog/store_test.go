package paymentlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-pipeline/internal/aws/awstest"
)

func TestStore_AppendAndQuery(t *testing.T) {
	mock := awstest.NewDynamo(map[string][]string{"payment_logs": {"payment_id"}})
	s := NewStore(mock, "payment_logs")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.nowFunc = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Event{MPaymentID: "ORD-1", EventType: WebhookReceived}))
	require.NoError(t, s.Append(ctx, Event{MPaymentID: "ORD-2", EventType: WebhookReceived}))
	require.NoError(t, s.Append(ctx, Event{MPaymentID: "ORD-1", EventType: PendingOrderNotFound, ErrorMessage: "missing"}))
	s.Record(ctx, Event{MPaymentID: "ORD-1", EventType: ProcessingFailed})

	byOrder, err := s.ByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, byOrder, 3)
	assert.Equal(t, WebhookReceived, byOrder[0].EventType)
	assert.Equal(t, PendingOrderNotFound, byOrder[1].EventType)
	assert.Equal(t, ProcessingFailed, byOrder[2].EventType)
	assert.NotEmpty(t, byOrder[0].PaymentID)

	missing, err := s.ByType(ctx, PendingOrderNotFound)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "missing", missing[0].ErrorMessage)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
