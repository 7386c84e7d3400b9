package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func TestDeviceRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Post("/sync/subida", DeviceRateLimit(cache, 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	send := func(device string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/sync/subida", strings.NewReader(`{"dispositivo_id":"`+device+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if code := send("dev-1"); code != fiber.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, code)
		}
	}
	if code := send("dev-1"); code != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", code)
	}
	if code := send("dev-2"); code != fiber.StatusOK {
		t.Fatalf("other device should not be limited, got %d", code)
	}
}
