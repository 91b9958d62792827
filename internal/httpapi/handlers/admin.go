package handlers

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-stream/internal/common"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// GateStatus lists users whose generation is running.
func (h *Handler) GateStatus(c *gin.Context) {
	common.OK(c, h.Gate.Status())
}

// ResetGate drops every processing window, e.g. after a crashed worker.
func (h *Handler) ResetGate(c *gin.Context) {
	n := h.Gate.ClearAll()
	log.Printf("[ResetGate] cleared processing=%d", n)
	common.OK(c, gin.H{"cleared": n})
}
