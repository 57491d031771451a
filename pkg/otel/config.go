package otel

import (
	"os"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects the trace exporter. EndpointURL chooses the protocol by
// scheme: grpc:// for OTLP/gRPC, http:// or https:// for OTLP/HTTP.
type Config struct {
	ServiceName        string
	ServiceVersion     string
	EndpointURL        string
	Enabled            bool
	SampleRatio        float64
	Insecure           bool
	ResourceAttributes map[string]string
}

func DefaultConfig() Config {
	return Config{
		ServiceName:        "apigw-token-authorizer",
		SampleRatio:        1.0,
		Insecure:           true,
		ResourceAttributes: make(map[string]string),
	}
}

// lambdaFunctionEnv is set by the Lambda runtime.
const lambdaFunctionEnv = "AWS_LAMBDA_FUNCTION_NAME"

func (c Config) resourceAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(c.ResourceAttributes)+4)
	attrs = append(attrs, semconv.ServiceName(c.ServiceName))
	if c.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.ServiceVersion))
	}
	if fn := os.Getenv(lambdaFunctionEnv); fn != "" {
		attrs = append(attrs, semconv.CloudProviderAWS, semconv.FaaSName(fn))
	}

	for k, v := range c.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return attrs
}
