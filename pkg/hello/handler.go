package hello

import (
	"errors"
	"fmt"
	"time"

	"github.com/fluxorio/hellopool/pkg/core"
	"github.com/fluxorio/hellopool/pkg/core/failfast"
	"github.com/fluxorio/hellopool/pkg/tcp"
)

// KeyFile is the ConnContext key holding the file chosen for the response.
const KeyFile = "file"

// Handler answers one request line per connection with a page from a FileStore.
type Handler struct {
	router      *Router
	store       FileStore
	sleep       func(time.Duration)
	readTimeout time.Duration
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithRouter replaces DefaultRouter.
func WithRouter(r *Router) HandlerOption {
	return func(h *Handler) {
		if r != nil {
			h.router = r
		}
	}
}

// WithSleep replaces time.Sleep for delayed routes.
func WithSleep(sleep func(time.Duration)) HandlerOption {
	return func(h *Handler) {
		if sleep != nil {
			h.sleep = sleep
		}
	}
}

// WithReadTimeout bounds the wait for the request line. Zero waits forever.
func WithReadTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.readTimeout = d
	}
}

// NewHandler creates a handler serving pages from store.
func NewHandler(store FileStore, opts ...HandlerOption) *Handler {
	failfast.NotNil(store, "file store")
	h := &Handler{
		router: DefaultRouter(),
		store:  store,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle serves a single connection:
//
//  1. read the request line; if none arrives or the read fails, log and
//     return without a response;
//  2. match it to a route, waiting out the route's delay;
//  3. read the route's file; a failure is returned and nothing is written;
//  4. write status line, Content-Length and body.
//
// The outcome is recorded on ctx under tcp.KeyRequestLine, tcp.KeyStatus,
// KeyFile and tcp.KeyBytes.
func (h *Handler) Handle(ctx *tcp.ConnContext) error {
	logger := ctx.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}

	if h.readTimeout > 0 {
		_ = ctx.Conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
	line, err := ReadRequestLine(ctx.Conn)
	if err != nil {
		if errors.Is(err, ErrNoRequestLine) {
			logger.Infof("Connection from %s closed before a request line arrived", ctx.RemoteAddr)
		} else {
			logger.Warnf("Failed to read request line from %s: %v", ctx.RemoteAddr, err)
		}
		return nil
	}
	ctx.Set(tcp.KeyRequestLine, line)

	route := h.router.Match(line)
	if route.Delay > 0 {
		h.sleep(route.Delay)
	}

	body, err := h.store.ReadFile(route.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", route.File, err)
	}
	ctx.Set(KeyFile, route.File)
	ctx.Set(tcp.KeyStatus, route.Status)

	n, err := ctx.Conn.Write(ComposeResponse(route.Status, body))
	ctx.Set(tcp.KeyBytes, n)
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
