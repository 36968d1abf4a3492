package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"modelcache-gateway/pkg/logging/logging"

	"go.uber.org/zap"
)

// Timeout cancels the request context after d and returns 504 if still running.
// Anything the handler writes after that is dropped.
//
// The handler runs on its own goroutine. A panic there is carried back and
// raised again on the serving goroutine so an outer Recoverer sees it.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			r = r.WithContext(ctx)
			tw := &timeoutWriter{w: w, h: make(http.Header)}

			done := make(chan struct{})
			panicked := make(chan *handlerPanic, 1)
			go func() {
				defer func() {
					if rec := recover(); rec != nil {
						hp := &handlerPanic{value: rec, stack: debug.Stack()}
						if tw.expired() {
							// nobody is waiting any more
							logging.L(ctx).Error("panic after timeout",
								zap.Any("error", rec),
								zap.ByteString("stack", hp.stack),
							)
							return
						}
						panicked <- hp
					}
				}()
				next.ServeHTTP(tw, r)
				close(done)
			}()

			select {
			case hp := <-panicked:
				panic(hp)
			case <-done:
				tw.flush()
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.timedOut = true

				logger := logging.L(ctx)
				logger.Warn("request timeout", zap.Duration("timeout", d))
				writeErrorBody(w, http.StatusGatewayTimeout, "gateway_timeout", "request exceeded "+d.String())

				select {
				case hp := <-panicked:
					logger.Error("panic after timeout", zap.Any("error", hp.value), zap.ByteString("stack", hp.stack))
				default:
				}
			}
		})
	}
}

// handlerPanic is a panic moved across goroutines. stack is where it started.
type handlerPanic struct {
	value any
	stack []byte
}

// timeoutWriter buffers the handler's response until it finishes in time.
type timeoutWriter struct {
	w http.ResponseWriter
	h http.Header

	mu       sync.Mutex
	buf      []byte
	code     int
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.code != 0 {
		return
	}
	tw.code = code
}

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if tw.code == 0 {
		tw.code = http.StatusOK
	}
	tw.buf = append(tw.buf, p...)
	return len(p), nil
}

func (tw *timeoutWriter) expired() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.timedOut
}

func (tw *timeoutWriter) flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	dst := tw.w.Header()
	for k, v := range tw.h {
		dst[k] = v
	}
	if tw.code == 0 {
		tw.code = http.StatusOK
	}
	tw.w.WriteHeader(tw.code)
	_, _ = tw.w.Write(tw.buf)
}
