package tracer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astro-web3/apigw-token-authorizer/pkg/otel"
	"github.com/astro-web3/apigw-token-authorizer/pkg/tracer"
)

func TestStart_BeforeInit(t *testing.T) {
	ctx, span := tracer.Start(context.Background(), "test")
	defer span.End()

	require.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() { tracer.Fail(span, errors.New("boom")) })
	assert.NotPanics(t, func() { tracer.Fail(span, nil) })
}

func TestInitTracer_Disabled(t *testing.T) {
	require.NoError(t, tracer.InitTracer("authorizer", otel.DefaultConfig()))

	_, span := tracer.Start(context.Background(), "test")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}
