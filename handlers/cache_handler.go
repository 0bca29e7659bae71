package handlers

import (
	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/gofiber/fiber/v2"
)

// CacheHandler exposes the offline cache state read-only
type CacheHandler struct {
	Coordinator *services.UpdateCoordinator
	Store       services.ResourceStore
}

func NewCacheHandler(coordinator *services.UpdateCoordinator, store services.ResourceStore) *CacheHandler {
	return &CacheHandler{Coordinator: coordinator, Store: store}
}

// GetStatus returns the active, waiting and retired generations
func (h *CacheHandler) GetStatus(c *fiber.Ctx) error {
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

// GetEntries lists the resource paths stored in one cache
func (h *CacheHandler) GetEntries(c *fiber.Ctx) error {
	cacheID := c.Params("cache_id")

	entries, err := h.Store.Entries(c.Context(), cacheID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	if len(entries) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "No cache found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}
