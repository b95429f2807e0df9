package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"phantomrecorder/backend/internal/recorder"
	"phantomrecorder/backend/internal/services"
	"phantomrecorder/backend/pkg/chrome"
	"phantomrecorder/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type StartRecordingRequest struct {
	URL       string `json:"url" binding:"required,url"`
	Device    string `json:"device"`
	Width     int    `json:"width" binding:"min=0"`
	Height    int    `json:"height" binding:"min=0"`
	UserAgent string `json:"user_agent"`
}

type SessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// RecordEventRequest is the recorder_event command.
type RecordEventRequest struct {
	SessionID string  `json:"session_id" binding:"required"`
	EventType string  `json:"event_type" binding:"required,oneof=click type"`
	Selector  string  `json:"selector" binding:"required"`
	Value     *string `json:"value"`
}

func (h *Handlers) StartRecording(c *gin.Context) {
	var req StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	viewport := chrome.Viewport{
		Device:    req.Device,
		Width:     req.Width,
		Height:    req.Height,
		UserAgent: req.UserAgent,
	}
	if _, err := viewport.Resolve(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	s, err := h.Manager.Start(c.Request.Context(), services.StartOptions{URL: req.URL, Viewport: viewport})
	if err != nil {
		writeError(c, "failed to start recording", err)
		return
	}

	response.SuccessWithMessage(c, "recording started", gin.H{
		"session_id": s.ID,
	})
}

func (h *Handlers) StopRecording(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.Manager.Stop(req.SessionID); err != nil {
		writeError(c, "failed to stop recording", err)
		return
	}

	st, _ := h.Manager.Status(req.SessionID)
	response.SuccessWithMessage(c, "recording stopped", st)
}

func (h *Handlers) GetRecordingStatus(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.BadRequest(c, "session_id is required")
		return
	}

	st, err := h.Manager.Status(sessionID)
	if err != nil {
		writeError(c, "failed to read status", err)
		return
	}
	response.Success(c, st)
}

func (h *Handlers) ListRecordings(c *gin.Context) {
	response.Success(c, gin.H{
		"sessions": h.Manager.List(),
		"devices":  chrome.DeviceNames(),
	})
}

// RecordEvent accepts a recorder_event command from an out-of-process
// recorder. Events for a stopped session are acknowledged and ignored.
func (h *Handlers) RecordEvent(c *gin.Context) {
	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ev := recorder.RecordedEvent{
		Kind:     recorder.Kind(req.EventType),
		Selector: req.Selector,
		Value:    req.Value,
	}
	if err := h.Manager.Record(c.Request.Context(), req.SessionID, ev); err != nil {
		writeError(c, "failed to record event", err)
		return
	}
	response.Success(c, nil)
}

func (h *Handlers) DeleteRecording(c *gin.Context) {
	if err := h.Manager.Cleanup(c.Param("session_id")); err != nil {
		writeError(c, "failed to delete recording", err)
		return
	}
	response.SuccessWithMessage(c, "recording deleted", nil)
}

// EventStream pushes the messages of one session, or of all sessions when
// session_id is empty, over a WebSocket.
func (h *Handlers) EventStream(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID != "" {
		if _, err := h.Manager.Get(sessionID); err != nil {
			writeError(c, "cannot stream events", err)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.Manager.Hub().Stream(conn, sessionID, h.Done)
}

func writeError(c *gin.Context, message string, err error) {
	msg := message + ": " + err.Error()
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		response.NotFound(c, msg)
	case errors.Is(err, services.ErrSessionExists), errors.Is(err, services.ErrNotRecording):
		response.Conflict(c, msg)
	case errors.Is(err, services.ErrTooManySessions):
		response.TooManyRequests(c, msg)
	case errors.Is(err, chrome.ErrUnknownDevice):
		response.BadRequest(c, msg)
	default:
		log.Printf("%s: %v", message, err)
		response.InternalServerError(c, msg)
	}
}
