package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "triage"

// Span is an OTel span together with the context that carries it.
type Span struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan starts a child span of ctx. The message coordinates already on ctx (see
// WithLogFields) are copied onto the span so traces and log lines can be joined.
//
//	sp := logger.StartSpan(ctx, "sequencer.group_message")
//	defer sp.End()
//	ctx = sp.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *Span {
	opts = append(opts, trace.WithAttributes(fieldAttributes(GetLogFields(ctx))...))
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &Span{ctx: ctx, span: span}
}

// ContinueTrace starts a span inside the trace the ingestion server stamped onto a
// queued message, so one trace covers HTTP ingest through grouping. An empty or
// malformed trace id starts a fresh trace.
func ContinueTrace(ctx context.Context, traceID, name string, opts ...trace.SpanStartOption) *Span {
	id, err := trace.TraceIDFromHex(traceID)
	if traceID == "" || err != nil {
		return StartSpan(ctx, name, opts...)
	}

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    id,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
	return StartSpan(trace.ContextWithRemoteSpanContext(ctx, remote), name, opts...)
}

func (s *Span) Context() context.Context {
	return s.ctx
}

func (s *Span) SetAttributes(kv ...attribute.KeyValue) {
	s.span.SetAttributes(kv...)
}

// Fail records err on the span and marks it failed. A nil err is ignored.
func (s *Span) Fail(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *Span) End() {
	s.span.End()
}

func fieldAttributes(f LogFields) []attribute.KeyValue {
	var kv []attribute.KeyValue
	if f.TicketID != nil {
		kv = append(kv, attribute.Int64("triage.ticket_id", *f.TicketID))
	}
	if f.ChannelID != nil {
		kv = append(kv, attribute.String("triage.channel_id", *f.ChannelID))
	}
	if f.MessageTS != nil {
		kv = append(kv, attribute.String("triage.message_ts", *f.MessageTS))
	}
	if f.StreamMessageID != nil {
		kv = append(kv, attribute.String("messaging.message.id", *f.StreamMessageID))
	}
	return kv
}
