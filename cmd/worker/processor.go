package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/idempotency"
	"github.com/imrishuroy/go-checkout-pipeline/internal/materializer"
)

// Runner materializes an order with retries.
type Runner interface {
	Run(ctx context.Context, req materializer.Request) (materializer.Result, error)
}

// Deliveries tracks each queued webhook to completion.
type Deliveries interface {
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	MarkDone(ctx context.Context, key, outcome, orderID string) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Processor handles queued webhook deliveries.
type Processor struct {
	runner     Runner
	deliveries Deliveries
}

// NewProcessor creates a worker processor.
func NewProcessor(runner Runner, deliveries Deliveries) *Processor {
	return &Processor{runner: runner, deliveries: deliveries}
}

// Handle processes a batch and reports the messages that must be redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			log.Printf("[worker] message %s failed: %v", rec.MessageId, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var job app.WebhookJob
	if err := json.Unmarshal([]byte(rec.Body), &job); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if job.DeliveryKey == "" || job.OrderNumber == "" {
		return fmt.Errorf("message %s lacks delivery_key or order_number", rec.MessageId)
	}

	log.Printf("[worker] received order=%s delivery=%s", job.OrderNumber, job.DeliveryKey)

	d, err := p.deliveries.Get(ctx, job.DeliveryKey)
	if err != nil {
		return fmt.Errorf("failed to fetch delivery: %w", err)
	}
	if d != nil && d.Status == idempotency.StatusDone {
		log.Printf("[worker] delivery %s already done (order_id=%s)", job.DeliveryKey, d.OrderID)
		return nil
	}

	res, err := p.runner.Run(ctx, job.Request())
	if err != nil {
		if markErr := p.deliveries.MarkFailed(ctx, job.DeliveryKey, err.Error()); markErr != nil {
			log.Printf("[worker] failed to mark delivery %s failed: %v", job.DeliveryKey, markErr)
		}
		return fmt.Errorf("materialize order=%s: %w", job.OrderNumber, err)
	}

	if err := p.deliveries.MarkDone(ctx, job.DeliveryKey, string(res.Outcome), res.OrderID); err != nil {
		// the order exists; a redelivery will short-circuit on AlreadyExists
		return fmt.Errorf("failed to mark delivery done: %w", err)
	}
	log.Printf("[worker] order=%s %s (order_id=%s)", job.OrderNumber, res.Outcome, res.OrderID)
	return nil
}
