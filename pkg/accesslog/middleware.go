package accesslog

import (
	"fmt"
	"time"

	"github.com/fluxorio/hellopool/pkg/core"
	"github.com/fluxorio/hellopool/pkg/core/failfast"
	"github.com/fluxorio/hellopool/pkg/tcp"
)

// Middleware writes one record per connection to sink after the handler
// returns. A handler panic is recorded and then re-raised. Sink errors are
// logged and never reach the connection.
func Middleware(sink Sink, logger core.Logger) tcp.Middleware {
	failfast.NotNil(sink, "access log sink")
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return func(next tcp.ConnectionHandler) tcp.ConnectionHandler {
		return func(ctx *tcp.ConnContext) (err error) {
			started := time.Now()
			defer func() {
				r := recover()
				rec := FromConn(ctx, started, err)
				if r != nil {
					rec.Err = fmt.Sprintf("panic: %v", r)
				}
				if werr := sink.Write(ctx.Context, rec); werr != nil {
					logger.Warnf("access log write failed for %s: %v", rec.RequestID, werr)
				}
				if r != nil {
					panic(r)
				}
			}()
			return next(ctx)
		}
	}
}
