package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/biosync/biosync/internal/biometric"
	"github.com/biosync/biosync/internal/checkpoint"
	"github.com/biosync/biosync/internal/download"
	"github.com/biosync/biosync/internal/metadata"
	"github.com/biosync/biosync/internal/middleware"
	"github.com/biosync/biosync/internal/queue"
	"github.com/biosync/biosync/internal/reconcile"
	"github.com/biosync/biosync/internal/status"
)

// APIVersion is reported by the ping endpoint.
const APIVersion = "1.0.0"

// RegisterSyncRoutes wires the device sync surface under /sync.
func RegisterSyncRoutes(r fiber.Router, comp *Components, d Deps) {
	requireSession := middleware.RequireSession(comp.Sessions)
	optionalSession := middleware.OptionalSession(comp.Sessions)
	limit := middleware.DeviceRateLimit(d.Cache, d.Cfg.UploadRatePerMin)
	// Runs after the session middleware so replay keys are scoped to the caller.
	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)

	uploads := reconcile.NewHandler(comp.Reconciler)
	downloads := download.NewHandler(comp.Downloads)
	queueHandler := queue.NewHandler(comp.Queue)
	flags := metadata.NewHandler(comp.Tracker)
	checkpoints := checkpoint.NewHandler(comp.Checkpoints)
	statuses := status.NewHandler(comp.Status)
	integrity := biometric.NewHandler(comp.Biometrics)

	sync := r.Group("/sync")
	sync.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"success":     true,
			"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
			"servidor":    "disponible",
			"version_api": APIVersion,
		})
	})

	// Offline registration uploads and queue confirmations may arrive before a session exists.
	sync.Post("/subida", limit, optionalSession, idem, uploads.Upload)
	sync.Post("/confirmar", limit, optionalSession, idem, queueHandler.Confirm)

	sync.Post("/descarga", requireSession, downloads.Download)
	sync.Get("/estado", requireSession, statuses.History)
	sync.Get("/cola-pendiente", requireSession, queueHandler.Pending)
	sync.Post("/reintento/:id", requireSession, idem, queueHandler.Retry)

	f := sync.Group("/flags", requireSession, idem)
	f.Get("/pending", flags.Pending)
	f.Get("/status", statuses.Status)
	f.Get("/checkpoints", checkpoints.List)
	f.Get("/conflicts", flags.Conflicts)
	f.Get("/integrity/:credentialId", integrity.Verify)
	f.Post("/mark-synced", flags.MarkSynced)
	f.Post("/checkpoint", checkpoints.Create)
	f.Post("/resolve-conflict", flags.Resolve)
	f.Post("/prune-devices", flags.Prune)
}
