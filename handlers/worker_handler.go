package handlers

import (
	"strings"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// WorkerHandler puts the update coordinator in front of the page's resources
// and accepts session messages over plain HTTP.
type WorkerHandler struct {
	Coordinator *services.UpdateCoordinator
}

func NewWorkerHandler(coordinator *services.UpdateCoordinator) *WorkerHandler {
	return &WorkerHandler{Coordinator: coordinator}
}

// Serve answers a resource read cache-first
func (h *WorkerHandler) Serve(c *fiber.Ctx) error {
	req := services.ResourceRequest{
		Path:     "/" + c.Params("*"),
		Method:   c.Method(),
		Navigate: isNavigation(c),
	}

	result, err := h.Coordinator.Serve(c.Context(), req)
	if err != nil {
		logrus.WithError(err).WithField("path", req.Path).Warn("Resource unavailable offline")
		return c.Status(fiber.StatusServiceUnavailable).SendString("Offline")
	}
	if !result.Handled || result.Resource == nil {
		return c.SendStatus(fiber.StatusMethodNotAllowed)
	}

	res := result.Resource
	if res.ContentType != "" {
		c.Set(fiber.HeaderContentType, res.ContentType)
	}
	c.Set("X-Cache-Source", result.Source)
	return c.Status(res.StatusCode).Send(res.Body)
}

// Message handles one session message. Messages without a reply get 202.
func (h *WorkerHandler) Message(c *fiber.Ctx) error {
	var msg models.SessionMessage
	if err := c.BodyParser(&msg); err != nil || msg.Type == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	reply, err := h.Coordinator.HandleMessage(c.Context(), msg)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	if reply == nil {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
		})
	}

	return c.JSON(fiber.Map{
		"success": reply.Type != models.MessageError,
		"data":    reply,
	})
}

func isNavigation(c *fiber.Ctx) bool {
	if strings.EqualFold(c.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return strings.Contains(c.Get(fiber.HeaderAccept), "text/html")
}
