package http

import (
	"net/http"

	"tipcast/internal/core/domain"
	"tipcast/internal/engine"
	"tipcast/internal/infrastructure/monitoring"
	"tipcast/internal/infrastructure/signal"
	"tipcast/internal/rooms"

	"github.com/gin-gonic/gin"
)

// StatsHandler serves the operational read-only endpoints: health, room and
// worker snapshots. All signaling traffic goes over the websocket instead.
type StatsHandler struct {
	registry *rooms.Registry
	pool     *engine.Pool
	gateway  *signal.Gateway
	health   *monitoring.HealthChecker
}

func NewStatsHandler(registry *rooms.Registry, pool *engine.Pool, gateway *signal.Gateway, health *monitoring.HealthChecker) *StatsHandler {
	return &StatsHandler{
		registry: registry,
		pool:     pool,
		gateway:  gateway,
		health:   health,
	}
}

func (h *StatsHandler) SetupRoutes(router *gin.Engine, apiMiddleware ...gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	api := router.Group("/api/v1", apiMiddleware...)
	{
		api.GET("/stats", h.Stats)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
		api.GET("/workers", h.ListWorkers)
	}
}

func (h *StatsHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// Ready reports whether the gateway can place new rooms. It fails while no
// engine worker is alive.
func (h *StatsHandler) Ready(c *gin.Context) {
	for _, w := range h.pool.Snapshot() {
		if w.Alive {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
}

func (h *StatsHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections":  h.gateway.ConnectionCount(),
		"rooms":        h.registry.RoomCount(),
		"participants": h.registry.ParticipantCount(),
		"workers":      len(h.pool.Snapshot()),
	})
}

type roomSummary struct {
	ID           domain.RoomID   `json:"id"`
	StreamID     domain.StreamID `json:"stream_id"`
	WorkerID     domain.WorkerID `json:"worker_id"`
	State        string          `json:"state"`
	Participants int             `json:"participants"`
	Viewers      int             `json:"viewers"`
	Performers   int             `json:"performers"`
	Producers    int             `json:"producers"`
	Consumers    int             `json:"consumers"`
}

func summarize(room *rooms.Room) roomSummary {
	viewers, performers := room.Counts()
	return roomSummary{
		ID:           room.ID(),
		StreamID:     room.StreamID(),
		WorkerID:     room.WorkerID(),
		State:        string(room.State()),
		Participants: room.ParticipantCount(),
		Viewers:      viewers,
		Performers:   performers,
		Producers:    room.ProducerCount(),
		Consumers:    room.ConsumerCount(),
	}
}

func (h *StatsHandler) ListRooms(c *gin.Context) {
	all := h.registry.Rooms()
	summaries := make([]roomSummary, 0, len(all))
	for _, room := range all {
		summaries = append(summaries, summarize(room))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": summaries})
}

func (h *StatsHandler) GetRoom(c *gin.Context) {
	room := h.registry.Room(domain.RoomID(c.Param("id")))
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": summarize(room)})
}

func (h *StatsHandler) ListWorkers(c *gin.Context) {
	workers := h.pool.Snapshot()
	type workerSummary struct {
		ID    domain.WorkerID `json:"id"`
		Index int             `json:"index"`
		Load  int             `json:"load"`
		Alive bool            `json:"alive"`
	}
	summaries := make([]workerSummary, 0, len(workers))
	for _, w := range workers {
		summaries = append(summaries, workerSummary{ID: w.ID, Index: w.Index, Load: w.Load, Alive: w.Alive})
	}
	c.JSON(http.StatusOK, gin.H{"workers": summaries})
}
