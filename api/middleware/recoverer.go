package middleware

import (
	"fmt"
	"net/http"

	"github.com/digistore1/digistore-backend/api/responses"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

// Recoverer turns a handler panic into a 500 envelope. Nothing is written when
// the handler already started its response.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				err := fmt.Errorf("panic in %s %s: %v", r.Method, r.URL.Path, recovered)
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithField(ctx, "request_id", RequestIDFromContext(ctx))
					logg.Error(ctx, "panic.recovered", err)
				}
				if rec.status != 0 {
					return
				}
				responses.WriteError(ctx, logg, rec, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
