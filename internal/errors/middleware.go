package errors

import (
	stderrors "errors"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/pddkhanh/solfolio-sub005/internal/metrics"
)

// response is the error body returned to API callers. The cause is logged,
// never sent.
type response struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind"`
}

// Middleware converts errors returned by handlers into JSON error
// responses. Echo's own HTTPErrors (route not found, method not allowed)
// pass through untouched.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if stderrors.As(err, &httpErr) {
				return err
			}

			typed := Classify(err)
			metrics.HTTPErrorsTotal.WithLabelValues(string(typed.Kind)).Inc()

			logger := slog.ErrorContext
			if typed.Kind == KindValidation || typed.Kind == KindNotFound {
				logger = slog.WarnContext
			}
			logger(c.Request().Context(), "Request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"kind", typed.Kind,
				"error", typed.Error(),
			)

			return c.JSON(typed.HTTPStatus(), response{Error: typed.Message, Kind: typed.Kind})
		}
	}
}
