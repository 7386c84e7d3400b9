package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// DeviceRateLimit caps calls per device (or client IP when the body names none) per
// minute using Redis counters. Without Redis, or on cache errors, requests pass.
func DeviceRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			DeviceID string `json:"dispositivo_id"`
		}
		_ = c.BodyParser(&req)
		subject := strings.TrimSpace(req.DeviceID)
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:sync:" + c.Path() + ":" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many sync requests, try again later")
		}
		return c.Next()
	}
}
