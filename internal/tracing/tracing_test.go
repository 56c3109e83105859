package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	tracer, closer, err := InitTracer(false, "kidtube", "")
	require.NoError(t, err)
	assert.IsType(t, opentracing.NoopTracer{}, tracer)
	assert.NoError(t, closer.Close())
}

func TestSpanHelpers(t *testing.T) {
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	span, ctx := StartSpan(context.Background(), "ledger.Accrue")
	SetTag(span, "kid_id", int64(4))
	LogError(span, errors.New("store down"))
	FinishSpan(span)

	assert.NotNil(t, opentracing.SpanFromContext(ctx))

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 1)
	assert.Equal(t, "ledger.Accrue", finished[0].OperationName)
	assert.Equal(t, int64(4), finished[0].Tag("kid_id"))
	assert.Equal(t, true, finished[0].Tag("error"))
}

func TestNilSpanHelpers(t *testing.T) {
	// Helpers tolerate nil spans
	FinishSpan(nil)
	LogError(nil, errors.New("ignored"))
	SetTag(nil, "k", "v")
}
