package handler

import (
	"net/http"
	"time"

	"parking_ledger/internal/domain"
	"parking_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// EventHandler takes plate readings from the gate and resolves them into
// entries, exit quotes or confirmed exits.
type EventHandler struct {
	parkingService *service.ParkingService
}

func NewEventHandler(ps *service.ParkingService) *EventHandler {
	return &EventHandler{parkingService: ps}
}

// POST /api/v1/events
func (h *EventHandler) RegisterEvent(c *gin.Context) {
	var dto domain.RegisterEventDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	in := service.RegisterEventInput{Plate: dto.Plate, PaymentMethod: dto.PaymentMethod}
	if dto.OccurredAt != "" {
		at, err := time.Parse(time.RFC3339, dto.OccurredAt)
		if err != nil {
			badRequest(c, "occurred_at must be RFC3339")
			return
		}
		in.OccurredAt = &at
	}

	result, err := h.parkingService.RegisterEvent(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if result.Kind == domain.EventEntry {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// GET /api/v1/events/quote?plate=
func (h *EventHandler) QuoteExit(c *gin.Context) {
	plate := c.Query("plate")
	if plate == "" {
		badRequest(c, "plate query parameter is required")
		return
	}

	result, err := h.parkingService.QuoteExit(c.Request.Context(), plate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
