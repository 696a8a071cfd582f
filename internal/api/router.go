package api

import (
	"net/http"

	"parking_ledger/internal/api/handler"
	"parking_ledger/internal/api/middleware"
	"parking_ledger/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SetupRouter(ps *service.ParkingService, wsManager *handler.WebSocketManager, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	wsHandler := handler.NewWebSocketHandler(wsManager, logger)
	r.GET("/ws", wsHandler.HandleWebSocket)

	v1 := r.Group("/api/v1")
	{
		eventH := handler.NewEventHandler(ps)
		eventRoutes := v1.Group("/events")
		{
			eventRoutes.POST("", eventH.RegisterEvent)
			eventRoutes.GET("/quote", eventH.QuoteExit)
		}

		ledgerH := handler.NewLedgerHandler(ps)
		ledgerRoutes := v1.Group("/ledger")
		{
			ledgerRoutes.GET("", ledgerH.GetDailyLedger)
			ledgerRoutes.GET("/export", ledgerH.ExportDailyLedger)
		}

		sessionH := handler.NewParkingSessionHandler(ps)
		sessionRoutes := v1.Group("/parking-sessions")
		{
			sessionRoutes.GET("/:id", sessionH.GetParkingSessionByID)
			sessionRoutes.PUT("/:id", sessionH.UpdateParkingSession)
			sessionRoutes.DELETE("/:id", sessionH.DeleteParkingSession)
		}
	}
	return r
}
