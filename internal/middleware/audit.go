package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestLog emits one structured line per request once the handler chain returns.
func RequestLog(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if err != nil {
			status = fiber.StatusInternalServerError
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID, _ := c.Locals(RequestIDKey).(string); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if identityID, _ := c.Locals(IdentityKey).(string); identityID != "" {
			attrs = append(attrs, slog.String("identity_id", identityID))
		}
		if err != nil && status >= fiber.StatusInternalServerError {
			attrs = append(attrs, slog.Any("error", err))
			logger.Error("request completed", attrs...)
			return err
		}

		logger.Info("request completed", attrs...)
		return err
	}
}
