package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/internal/storage/sqlite"
	"github.com/manual-qa/backend/pkg/logger"
)

const runPollInterval = time.Second

type WebSocketHandler struct {
	store *sqlite.Client
}

func NewWebSocketHandler(store *sqlite.Client) *WebSocketHandler {
	return &WebSocketHandler{store: store}
}

// HandleConnection streams run status to a client. The client sends
// {"type": "watch", "run_id": ...}; the server pushes a status message on
// every change until the run reaches a terminal state.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type  string `json:"type"`
			RunID string `json:"run_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			break
		}

		if msg.Type != "watch" || msg.RunID == "" {
			h.sendError(c, "expected a watch message with run_id")
			continue
		}

		if err := h.watchRun(c, msg.RunID); err != nil {
			logger.Error("Failed to stream run status", zap.String("run_id", msg.RunID), zap.Error(err))
			h.sendError(c, "failed to stream run status")
		}
	}
}

func (h *WebSocketHandler) watchRun(c *websocket.Conn, runID string) error {
	lastStatus := ""

	for {
		run, err := h.store.GetRun(runID)
		if err != nil {
			h.sendError(c, "run not found")
			return nil
		}

		if run.Status != lastStatus {
			lastStatus = run.Status
			if err := h.sendStatus(c, run); err != nil {
				return err
			}
		}

		if run.Status == models.RunStatusCompleted || run.Status == models.RunStatusFailed {
			return nil
		}

		time.Sleep(runPollInterval)
	}
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, run *models.Run) error {
	msg := map[string]interface{}{
		"type":   "status",
		"run_id": run.ID,
		"status": run.Status,
	}
	if run.Error != "" {
		msg["error"] = run.Error
	}
	if run.Summary != nil {
		msg["summary"] = run.Summary
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
