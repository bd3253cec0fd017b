package zk

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/QuangTung97/zksession/proto"
)

// TracerName is the instrumentation name used for request spans.
const TracerName = "github.com/QuangTung97/zksession"

func newTracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		return otel.Tracer(TracerName)
	}
	return provider.Tracer(TracerName)
}

func startRequestSpan(
	ctx context.Context, tracer trace.Tracer, op proto.OpCode, path string,
) trace.Span {
	attrs := []attribute.KeyValue{
		attribute.String("zk.op", op.String()),
	}
	if path != "" {
		attrs = append(attrs, attribute.String("zk.path", path))
	}
	_, span := tracer.Start(ctx, "zk."+op.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return span
}

func endRequestSpan(span trace.Span, xid int32, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int("zk.xid", int(xid)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
