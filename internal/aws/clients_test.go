package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func TestNewAWSClients_ShareEndpointOverride(t *testing.T) {
	t.Setenv("AWS_REGION", "af-south-1")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")

	c, err := NewAWSClients(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	db, ok := c.DynamoDB.(*dynamodb.Client)
	if !ok {
		t.Fatalf("expected *dynamodb.Client, got %T", c.DynamoDB)
	}
	q, ok := c.SQS.(*sqs.Client)
	if !ok {
		t.Fatalf("expected *sqs.Client, got %T", c.SQS)
	}
	cw, ok := c.CloudWatch.(*cloudwatch.Client)
	if !ok {
		t.Fatalf("expected *cloudwatch.Client, got %T", c.CloudWatch)
	}

	for name, ep := range map[string]*string{
		"dynamodb":   db.Options().BaseEndpoint,
		"sqs":        q.Options().BaseEndpoint,
		"cloudwatch": cw.Options().BaseEndpoint,
	} {
		if ep == nil || *ep != "http://localhost:4566" {
			t.Fatalf("%s: endpoint override not applied: %v", name, ep)
		}
	}
	if r := db.Options().Region; r != "af-south-1" {
		t.Fatalf("region mismatch, got %s", r)
	}
}
