package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"modelcache-gateway/pkg/logging/logging"
)

// Recoverer turns a handler panic into a 500 with the same error body the
// inference handler uses. Panics raised again by Timeout keep the stack of
// the goroutine they started on.
//
// http.ErrAbortHandler is passed through so net/http can abort the response.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				value, stack := rec, []byte(nil)
				if hp, ok := rec.(*handlerPanic); ok {
					value, stack = hp.value, hp.stack
				}
				if err, ok := value.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(value)
				}
				if stack == nil {
					stack = debug.Stack()
				}

				logging.L(r.Context()).Error("panic recovered",
					zap.Any("error", value),
					zap.ByteString("stack", stack),
				)
				writeErrorBody(w, http.StatusInternalServerError, "internal_server_error", "the gateway hit an unexpected error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeErrorBody(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: msg})
}
