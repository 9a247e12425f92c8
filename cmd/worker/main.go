package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
	"github.com/imrishuroy/go-checkout-pipeline/internal/config"
)

func main() {
	cfg := config.Load()

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	s := app.New(cfg, clients)
	p := NewProcessor(s.Retrier, s.Deliveries)

	// RUN_LOCAL=true processes one message from LOCAL_SQS_BODY and exits.
	if os.Getenv("RUN_LOCAL") == "true" {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			log.Fatal("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
		}
		resp, err := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.Fatalf("local handler failed: %v", err)
		}
		return
	}

	lambda.Start(p.Handle)
}
