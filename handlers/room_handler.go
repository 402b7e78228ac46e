package handlers

import (
	"errors"
	"net/http"

	"battleroom/services"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	battle *services.BattleService
}

func NewRoomHandler(battle *services.BattleService) *RoomHandler {
	return &RoomHandler{battle: battle}
}

// GetRoom returns the client-safe snapshot of an active room. Correctness
// flags never appear here; the snapshot is the same one a reconnecting
// socket receives.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room code required"})
		return
	}

	snapshot, err := h.battle.Snapshot(code)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
