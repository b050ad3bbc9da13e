package llm

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dbchat/dbchat/internal/observability"
)

// Instrumented wraps a Client with a span per call, OTel token and latency
// instruments, and the Prometheus request counter.
type Instrumented struct {
	next     Client
	provider string
	tracer   trace.Tracer
	tokens   metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewInstrumented(next Client, provider string, tel *observability.Telemetry) (*Instrumented, error) {
	if tel == nil {
		tel = observability.NoopTelemetry()
	}
	tokens, err := tel.Meter.Int64Counter("dbchat.llm.tokens",
		metric.WithDescription("Tokens consumed by LLM requests."),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := tel.Meter.Float64Histogram("dbchat.llm.duration",
		metric.WithDescription("LLM request latency."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &Instrumented{
		next:     next,
		provider: provider,
		tracer:   tel.Tracer,
		tokens:   tokens,
		latency:  latency,
	}, nil
}

func (c *Instrumented) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.provider", c.provider),
		attribute.Int("llm.prompt_chars", len(req.Prompt)),
	))
	defer span.End()

	start := time.Now()
	resp, err := c.next.Complete(ctx, req)
	outcome := Outcome(err)
	providerAttr := attribute.String("provider", c.provider)

	c.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(providerAttr, attribute.String("outcome", outcome)))
	observability.ObserveLLMRequest(c.provider, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return Response{}, err
	}

	span.SetAttributes(
		attribute.String("llm.model", resp.Model),
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	c.tokens.Add(ctx, int64(resp.Usage.PromptTokens), metric.WithAttributes(providerAttr, attribute.String("kind", "prompt")))
	c.tokens.Add(ctx, int64(resp.Usage.CompletionTokens), metric.WithAttributes(providerAttr, attribute.String("kind", "completion")))
	return resp, nil
}

// Outcome classifies a Complete error for metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
