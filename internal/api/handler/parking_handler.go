package handler

import (
	"net/http"
	"strconv"
	"time"

	"parking_ledger/internal/domain"
	"parking_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// Operators may send either RFC3339 or a wall-clock time in the lot's timezone.
const localTimeLayout = "2006-01-02 15:04:05"

type ParkingSessionHandler struct {
	parkingService *service.ParkingService
}

func NewParkingSessionHandler(ps *service.ParkingService) *ParkingSessionHandler {
	return &ParkingSessionHandler{parkingService: ps}
}

func sessionID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, "invalid parking session id")
		return 0, false
	}
	return id, true
}

func (h *ParkingSessionHandler) parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localTimeLayout, s, h.parkingService.Location())
}

// GET /api/v1/parking-sessions/:id
func (h *ParkingSessionHandler) GetParkingSessionByID(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	session, err := h.parkingService.GetSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// PUT /api/v1/parking-sessions/:id
func (h *ParkingSessionHandler) UpdateParkingSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var dto domain.UpdateParkingSessionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	entry, err := h.parseTime(dto.EntryTime)
	if err != nil {
		badRequest(c, "invalid entry_time")
		return
	}
	in := service.UpdateSessionInput{
		Plate:         dto.Plate,
		EntryTime:     entry,
		Amount:        dto.Amount,
		PaymentMethod: dto.PaymentMethod,
	}
	if dto.ExitTime != "" {
		exit, err := h.parseTime(dto.ExitTime)
		if err != nil {
			badRequest(c, "invalid exit_time")
			return
		}
		in.ExitTime = &exit
	}

	session, err := h.parkingService.UpdateSession(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// DELETE /api/v1/parking-sessions/:id
func (h *ParkingSessionHandler) DeleteParkingSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.parkingService.DeleteSession(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
