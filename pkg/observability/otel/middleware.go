package otel

import (
	"fmt"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/hellopool/pkg/tcp"
)

const instrumentationName = "github.com/fluxorio/hellopool/pkg/observability/otel"

// Middleware starts a server span per connection. The span context replaces
// ctx.Context for the rest of the chain. A nil tracer uses the global provider.
func Middleware(tracer trace.Tracer) tcp.Middleware {
	return func(next tcp.ConnectionHandler) tcp.ConnectionHandler {
		return func(ctx *tcp.ConnContext) (err error) {
			t := tracer
			if t == nil {
				t = otelapi.Tracer(instrumentationName)
			}

			attrs := []attribute.KeyValue{attribute.String("request.id", ctx.RequestID)}
			if ctx.RemoteAddr != nil {
				attrs = append(attrs, attribute.String("net.peer.addr", ctx.RemoteAddr.String()))
			}
			if !ctx.Accepted.IsZero() {
				attrs = append(attrs, attribute.Int64("queue.wait_ms", time.Since(ctx.Accepted).Milliseconds()))
			}
			spanCtx, span := t.Start(ctx.Context, "hellopool.connection",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			parent := ctx.Context
			ctx.Context = spanCtx

			defer func() {
				r := recover()
				if line := ctx.GetString(tcp.KeyRequestLine); line != "" {
					span.SetAttributes(attribute.String("request.line", line))
				}
				if status := ctx.GetString(tcp.KeyStatus); status != "" {
					span.SetAttributes(attribute.String("response.status", status))
				}
				span.SetAttributes(attribute.Int("response.bytes", ctx.GetInt(tcp.KeyBytes)))
				switch {
				case r != nil:
					span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
				case err != nil:
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				span.End()
				ctx.Context = parent
				if r != nil {
					panic(r)
				}
			}()
			return next(ctx)
		}
	}
}
