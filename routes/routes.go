package routes

import (
	"log/slog"
	"net/http"

	"battleroom/handlers"
	"battleroom/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // auth is an upstream concern; the gateway trusts its caller
	},
}

func SetupRoutes(
	router *gin.Engine,
	roomHandler *handlers.RoomHandler,
	hub *services.Hub,
	logger *slog.Logger,
) {
	api := router.Group("/api")
	{
		rooms := api.Group("/rooms")
		{
			rooms.GET("/:code", roomHandler.GetRoom)
		}
	}

	// All battle events flow over the socket; identity arrives in the
	// create-room / join-room / reconnect payloads.
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", c.Request.RemoteAddr, "error", err)
			return
		}
		hub.RegisterClient(conn)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
