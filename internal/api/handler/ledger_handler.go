package handler

import (
	"bytes"
	"fmt"
	"net/http"

	"parking_ledger/internal/export"
	"parking_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

type LedgerHandler struct {
	parkingService *service.ParkingService
}

func NewLedgerHandler(ps *service.ParkingService) *LedgerHandler {
	return &LedgerHandler{parkingService: ps}
}

// GET /api/v1/ledger?date=YYYY-MM-DD
func (h *LedgerHandler) GetDailyLedger(c *gin.Context) {
	ledger, err := h.parkingService.DailyLedger(c.Request.Context(), c.Query("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":          ledger.Date,
		"sessions":      ledger.Rows(),
		"open":          len(ledger.Open),
		"latest_closed": ledger.LatestClosed,
		"totals":        ledger.Totals,
		"grand_total":   ledger.GrandTotal,
	})
}

// GET /api/v1/ledger/export?date=YYYY-MM-DD
func (h *LedgerHandler) ExportDailyLedger(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = h.parkingService.Today()
	}

	// Buffer the workbook so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.parkingService.ExportDailyLedger(c.Request.Context(), date, &buf); err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(date)))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}
