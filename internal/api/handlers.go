package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/outagex/outagex-sync/internal/store"
	"github.com/outagex/outagex-sync/internal/transport"
)

type handlers struct {
	store    *store.Store
	upstream Upstream
	backfill Backfill
	logger   *slog.Logger
}

func (h *handlers) register(router *gin.Engine) {
	router.GET("/healthz", h.health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/state", h.state)
		v1.GET("/incident", h.incident)
		v1.GET("/timeline", h.timeline)
		v1.GET("/logs", h.logs)
		v1.GET("/chat", h.chat)
		v1.GET("/metrics", h.systemMetrics)
		v1.GET("/stream", h.stream)

		v1.POST("/incident/trigger", h.trigger)
		v1.POST("/solution/execute", h.executeSolution)
		v1.POST("/chat/message", h.sendChat)
		v1.POST("/agent/stop", h.stopAgent)
		v1.PUT("/context", h.selectContext)
	}
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"connected": h.store.Connected(),
	})
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.View())
}

func (h *handlers) incident(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"incident":    h.store.Incident(),
		"status":      h.store.Status(),
		"can_trigger": h.store.CanTrigger(),
	})
}

func (h *handlers) timeline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timeline": h.store.Timeline()})
}

func (h *handlers) logs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": h.store.Logs()})
}

func (h *handlers) chat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"messages":     h.store.Messages(),
		"agent_typing": h.store.AgentTyping(),
	})
}

func (h *handlers) systemMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"metrics": h.store.Metrics()})
}

// streamTopics is every view slice the SSE feed announces.
var streamTopics = []store.Topic{
	store.TopicIncident,
	store.TopicTimeline,
	store.TopicLogs,
	store.TopicChat,
	store.TopicMetrics,
	store.TopicSolution,
	store.TopicConnection,
	store.TopicNotice,
}

// stream pushes a named SSE event per changed topic, carrying the full
// current snapshot. Signals are coalesced per topic, so a burst of log
// appends costs one frame.
func (h *handlers) stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	changed := make(chan store.Topic, len(streamTopics))
	ctx := c.Request.Context()
	for _, topic := range streamTopics {
		ch, cancel := h.store.Subscribe(topic)
		defer cancel()
		go func(topic store.Topic, ch <-chan struct{}) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ch:
					select {
					case changed <- topic:
					case <-ctx.Done():
						return
					}
				}
			}
		}(topic, ch)
	}

	writeEvent := func(name string) bool {
		data, err := json.Marshal(h.store.View())
		if err != nil {
			return false
		}
		if _, err := c.Writer.WriteString("event: " + name + "\ndata: " + string(data) + "\n\n"); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent("state") {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case topic := <-changed:
			if !writeEvent(string(topic)) {
				return
			}
		}
	}
}

func (h *handlers) trigger(c *gin.Context) {
	if !h.store.CanTrigger() {
		c.JSON(http.StatusConflict, gin.H{"error": "incident already active"})
		return
	}
	if err := h.upstream.TriggerIncident(); err != nil {
		h.intentError(c, "trigger", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

func (h *handlers) executeSolution(c *gin.Context) {
	var req struct {
		SolutionID string `json:"solution_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SolutionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "solution_id is required"})
		return
	}
	sol := h.store.Solution()
	if sol == nil || sol.ID != req.SolutionID {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such proposed solution"})
		return
	}
	if err := h.upstream.ExecuteSolution(req.SolutionID); err != nil {
		h.intentError(c, "solution.execute", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "executing", "solution_id": req.SolutionID})
}

// sendChat optimistically appends the message before forwarding it. A send
// failure is surfaced on the message itself rather than rolling the append
// back, so the transcript shows what the user said and that it never
// arrived.
func (h *handlers) sendChat(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	msg := h.store.AppendLocalChat(req.Content)
	if err := h.upstream.SendChat(msg); err != nil {
		h.store.MarkChatFailed(msg.ID)
		h.logger.Warn("chat send failed",
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "message not delivered",
			"message": msg,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

func (h *handlers) stopAgent(c *gin.Context) {
	if err := h.upstream.StopAgent(); err != nil {
		h.intentError(c, "agent.stop", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

func (h *handlers) selectContext(c *gin.Context) {
	var req struct {
		ProjectID string `json:"project_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ProjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}

	changed := h.store.SelectProject(req.ProjectID)
	if changed {
		// Backfill outlives this request; only a later context switch
		// cancels it.
		h.backfill.Refresh(context.Background(), req.ProjectID)
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id": req.ProjectID,
		"changed":    changed,
	})
}

func (h *handlers) intentError(c *gin.Context, intent string, err error) {
	if errors.Is(err, transport.ErrNotConnected) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream session not connected"})
		return
	}
	h.logger.Warn("intent forward failed",
		slog.String("intent", intent),
		slog.Any("error", err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "upstream rejected intent"})
}
