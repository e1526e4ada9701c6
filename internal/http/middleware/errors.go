package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/errfilter"
)

// errRequestGone is returned by the sink when the client has already gone.
var errRequestGone = errors.New("request context done")

// ErrorFilter hands every uncaught failure of a request to chain.
//
// Handlers report failures with c.Error(err) and return; panics are
// recovered and converted with apperr.FromPanic. The last recorded error is
// delivered unless a response body was already written. Mount it after
// RequestID() and Logger() so failures carry the request-scoped logger.
func ErrorFilter(chain *errfilter.Chain) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if v := recover(); v != nil {
				c.Abort()
				handle(chain, c, apperr.FromPanic(v))
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		handle(chain, c, c.Errors.Last().Err)
	}
}

func handle(chain *errfilter.Chain, c *gin.Context, err error) {
	_ = chain.Handle(apperr.EnsureStack(err), errfilter.Request{
		Target: errfilter.TargetHTTP,
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Route:  c.FullPath(),
		Sink:   ginSink{c},
		Logger: LoggerFrom(c),
	})
}

// ginSink writes error bodies through the Gin context.
type ginSink struct{ c *gin.Context }

func (s ginSink) WriteJSON(status int, body any) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return errors.Join(errRequestGone, err)
	}
	if s.c.Writer.Written() {
		return errors.New("response already written")
	}
	s.c.AbortWithStatusJSON(status, body)
	return nil
}
