package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/fenilmodi00/giftlist-backend/config"
	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AdminHandler drives the generation lifecycle by hand
type AdminHandler struct {
	Coordinator *services.UpdateCoordinator
	Fetcher     services.ResourceFetcher
	Config      *config.CoordinatorConfig
}

func NewAdminHandler(coordinator *services.UpdateCoordinator, fetcher services.ResourceFetcher, cfg *config.CoordinatorConfig) *AdminHandler {
	if cfg == nil {
		cfg = config.DefaultCoordinatorConfig()
	}
	return &AdminHandler{
		Coordinator: coordinator,
		Fetcher:     fetcher,
		Config:      cfg,
	}
}

type installRequest struct {
	Version   string   `json:"version"`
	Resources []string `json:"resources"`
	Discover  bool     `json:"discover"`
}

// InstallGeneration installs a new generation. Without resources the
// configured set is used; discover adds the entry document's local references.
func (h *AdminHandler) InstallGeneration(c *fiber.Ctx) error {
	var req installRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	spec := services.GenerationSpec{Version: req.Version, Resources: req.Resources}
	if len(spec.Resources) == 0 {
		spec.Resources = append([]string(nil), h.Config.Resources...)
	}

	if req.Discover {
		resources, err := h.discover(c, spec.Resources)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"success": false,
				"error":   "Failed to read entry document: " + err.Error(),
			})
		}
		spec.Resources = resources
	}

	logrus.WithFields(logrus.Fields{
		"version":   spec.Version,
		"resources": len(spec.Resources),
	}).Info("Generation install requested via admin endpoint")

	gen, err := h.Coordinator.Install(c.Context(), spec)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"data":    gen,
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    gen,
	})
}

func (h *AdminHandler) discover(c *fiber.Ctx, base []string) ([]string, error) {
	entry, err := h.Fetcher.Fetch(c.Context(), services.NormalizeResourcePath(h.Config.EntryDocument))
	if err != nil {
		return nil, err
	}
	if entry.StatusCode != http.StatusOK {
		return nil, errors.New(http.StatusText(entry.StatusCode))
	}
	return services.DiscoverResources(entry.Body, base)
}

// SkipWaiting activates the waiting generation
func (h *AdminHandler) SkipWaiting(c *fiber.Ctx) error {
	if err := h.Coordinator.SkipWaiting(c.Context()); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return h.status(c)
}

// ClearCaches drops every cache and reinstalls the current generation
func (h *AdminHandler) ClearCaches(c *fiber.Ctx) error {
	logrus.Warn("Cache reset triggered via admin endpoint")

	startTime := time.Now()
	gen, err := h.Coordinator.ClearCaches(c.Context())
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"data":     gen,
		"duration": time.Since(startTime).String(),
	})
}

// PruneCaches deletes caches no generation owns
func (h *AdminHandler) PruneCaches(c *fiber.Ctx) error {
	removed, err := h.Coordinator.PruneCaches(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"count":   removed,
	})
}

func (h *AdminHandler) status(c *fiber.Ctx) error {
	status, err := h.Coordinator.Status(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    status,
	})
}

// statusFor maps a service error category onto an HTTP status
func statusFor(err error) int {
	var serviceErr *shared.ServiceError
	if !errors.As(err, &serviceErr) {
		return fiber.StatusInternalServerError
	}
	switch serviceErr.Category {
	case shared.ErrorCategoryValidation:
		return fiber.StatusBadRequest
	case shared.ErrorCategoryNotFound:
		return fiber.StatusNotFound
	case shared.ErrorCategoryLifecycle:
		return fiber.StatusConflict
	case shared.ErrorCategoryNetwork, shared.ErrorCategoryTimeout:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
