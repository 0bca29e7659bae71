package handlers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

// RecordHandler answers the record store endpoint. Every answer is HTTP 200;
// failures are reported in the body as "ERROR: ..." text.
type RecordHandler struct {
	Backend services.GiftBackend
}

func NewRecordHandler(backend services.GiftBackend) *RecordHandler {
	return &RecordHandler{Backend: backend}
}

// Exec dispatches on the action parameter
func (h *RecordHandler) Exec(c *fiber.Ctx) error {
	switch param(c, "action") {
	case "fetch":
		return h.fetch(c)
	case "save":
		return h.save(c)
	default:
		return plainText(c, "ERROR: Unknown action")
	}
}

func (h *RecordHandler) fetch(c *fiber.Ctx) error {
	callback := param(c, "callback")
	if callback != "" && !callbackPattern.MatchString(callback) {
		return plainText(c, "ERROR: Invalid callback")
	}

	gifts, err := h.Backend.FetchAll(c.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to fetch gifts")
		return plainText(c, "ERROR: "+err.Error())
	}
	if gifts == nil {
		gifts = []models.Gift{}
	}

	if callback == "" {
		return c.JSON(gifts)
	}

	payload, err := json.Marshal(gifts)
	if err != nil {
		return plainText(c, "ERROR: "+err.Error())
	}
	c.Set(fiber.HeaderContentType, "application/javascript; charset=utf-8")
	return c.SendString(callback + "(" + string(payload) + ")")
}

func (h *RecordHandler) save(c *fiber.Ctx) error {
	gift := models.Gift{
		Who:      param(c, "kdo"),
		FromWhom: param(c, "odKoho"),
		Item:     param(c, "co"),
		Link:     param(c, "odkaz"),
		Status:   param(c, "status"),
	}.Normalized()

	if gift.Who == "" || gift.Item == "" || gift.Status == "" {
		return plainText(c, "ERROR: Missing required parameters (kdo, co, status)")
	}

	result, err := h.Backend.Save(c.Context(), gift)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"who":  gift.Who,
			"item": gift.Item,
		}).Error("Failed to save gift")
		return plainText(c, "ERROR: "+err.Error())
	}

	if result.Created {
		return plainText(c, fmt.Sprintf("SUCCESS: Gift added to row %d", result.Row))
	}
	return plainText(c, fmt.Sprintf("SUCCESS: Gift updated in row %d", result.Row))
}

// param reads a query parameter, falling back to a form field
func param(c *fiber.Ctx, key string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return strings.TrimSpace(c.FormValue(key))
}

func plainText(c *fiber.Ctx, body string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusOK).SendString(body)
}
