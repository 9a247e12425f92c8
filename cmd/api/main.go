package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
	"github.com/imrishuroy/go-checkout-pipeline/internal/config"
	"github.com/imrishuroy/go-checkout-pipeline/internal/handlers"
)

func main() {
	cfg := config.Load()

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	r := handlers.NewRouter(app.New(cfg, clients))

	// RUN_LOCAL=true serves plain HTTP for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":" + envOr("PORT", "8080")
		log.Printf("running local server on %s (sandbox=%v)", addr, cfg.Gateway.Sandbox)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
