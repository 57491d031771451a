package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/astro-web3/apigw-token-authorizer/internal/config"
	"github.com/astro-web3/apigw-token-authorizer/internal/di"
	lambdatransport "github.com/astro-web3/apigw-token-authorizer/internal/transport/lambda"
	"github.com/astro-web3/apigw-token-authorizer/pkg/otel"
)

func main() {
	cfg := config.MustLoad()

	if err := di.InitObservability(cfg); err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}

	authorizer, err := di.ProvideAuthorizer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to build authorizer: %v", err)
	}

	handler := lambdatransport.NewHandler(authorizer.Service)

	// Spans are flushed when the runtime signals shutdown.
	lambda.StartWithOptions(handler.Handle,
		lambda.WithEnableSIGTERM(func() {
			if err := otel.Shutdown(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer provider: %v", err)
			}
			_ = authorizer.Close()
		}),
	)
}
