package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/service"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// LaneView is the read side of a lane controller.
type LaneView interface {
	Position() types.Position
	State() types.State
	LastCycle() (types.CycleResult, bool)
	Cycles() uint64
}

// QueueView is the read side of the offline queue.
type QueueView interface {
	Size() int
	Snapshot() []types.QueuedRequest
}

type HealthView interface {
	Health() service.BackendHealth
}

type Dependencies struct {
	Logger      zerolog.Logger
	Addr        string
	LaneID      string
	CORSOrigins []string

	Lane   LaneView
	Queue  QueueView
	Health HealthView
}

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	log        zerolog.Logger
	laneID     string
	lane       LaneView
	queue      QueueView
	health     HealthView
}

func NewServer(d Dependencies) *Server {
	engine := gin.New()
	engine.Use(requestLogger(d.Logger), gin.Recovery())
	if len(d.CORSOrigins) > 0 {
		engine.Use(cors.New(corsConfig(d.CORSOrigins)))
	}

	s := &Server{
		engine: engine,
		log:    d.Logger,
		laneID: d.LaneID,
		lane:   d.Lane,
		queue:  d.Queue,
		health: d.Health,
	}

	engine.GET("/healthz", s.handleHealthz)
	v1 := engine.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/queue", s.handleQueue)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Accept", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.snapshot()
	if wantsProtobuf(c.Request) {
		writeProto(c, http.StatusOK, func() (proto.Message, error) { return statusToProto(st) })
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleQueue(c *gin.Context) {
	if s.queue == nil {
		writeError(c, http.StatusNotFound, "queue_disabled", "offline queue is not configured")
		return
	}
	items := s.queue.Snapshot()
	out := make([]QueuedItem, 0, len(items))
	for _, r := range items {
		out = append(out, QueuedItem{
			ID:         r.ID,
			Method:     r.Method,
			Endpoint:   r.Endpoint,
			EnqueuedAt: r.EnqueuedAt,
			RetryCount: r.RetryCount,
		})
	}
	c.JSON(http.StatusOK, QueueResponse{Size: len(out), Items: out})
}

func (s *Server) snapshot() StatusResponse {
	st := StatusResponse{
		LaneID: s.laneID,
		Lane:   s.lane.Position(),
		State:  s.lane.State(),
		Cycles: s.lane.Cycles(),
	}
	if s.queue != nil {
		st.QueueSize = s.queue.Size()
	}
	if s.health != nil {
		h := s.health.Health()
		st.BackendReachable = h.Reachable
		if !h.CheckedAt.IsZero() {
			at := h.CheckedAt
			st.BackendCheckedAt = &at
		}
	}
	if last, ok := s.lane.LastCycle(); ok {
		st.LastCycle = &last
	}
	return st
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: msg}})
}
