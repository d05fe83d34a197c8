// Package apiserver exposes finished and in-flight backtest runs over HTTP:
// a gin REST surface for run history (mirroring the teacher's /api group),
// a gorilla/websocket equity-curve stream modeled on the teacher's
// SharedWSManager broadcast hub, and a Prometheus /metrics endpoint.
package apiserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/khangdang-jpg/weeklyback/internal/model"
	"github.com/khangdang-jpg/weeklyback/internal/report"
	"github.com/khangdang-jpg/weeklyback/internal/store"
)

// Server wires the run store, the live-run broadcast hub, and an admin
// token hash behind a gin router.
type Server struct {
	runs          *store.RunStore
	hub           *EquityHub
	adminTokenHash []byte
	log           zerolog.Logger

	runsTotal   prometheus.Counter
	runsFailed  prometheus.Counter
}

// New builds a Server. adminToken may be empty, in which case DELETE
// /runs/:id is rejected unconditionally (no admin configured).
func New(runs *store.RunStore, adminToken string, log zerolog.Logger) *Server {
	var hash []byte
	if adminToken != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.DefaultCost)
		if err == nil {
			hash = h
		}
	}
	return &Server{
		runs:           runs,
		hub:            NewEquityHub(),
		adminTokenHash: hash,
		log:            log,
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weeklyback_runs_total",
			Help: "Total number of completed backtest runs served.",
		}),
		runsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weeklyback_runs_failed_total",
			Help: "Total number of backtest runs that errored.",
		}),
	}
}

// Router builds the gin engine with CORS, the /runs group, the websocket
// stream, and /metrics.
func (s *Server) Router() *gin.Engine {
	reg := prometheus.NewRegistry()
	reg.MustRegister(s.runsTotal, s.runsFailed)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	api := r.Group("/runs")
	{
		api.GET("", s.listRuns)
		api.GET("/:id", s.getRun)
		api.DELETE("/:id", s.adminOnly(), s.deleteRun)
		api.GET("/:id/stream", s.streamEquity)
		api.POST("/:id/publish", s.publishEquity)
		api.POST("/completion", s.recordCompletion)
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return r
}

func (s *Server) listRuns(c *gin.Context) {
	rows, err := s.runs.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getRun(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}
	row, err := s.runs.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// adminOnly checks a bearer token against the server's bcrypt-hashed admin
// token, the same pattern the teacher uses for login password checks.
func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.adminTokenHash) == 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin access not configured"})
			c.Abort()
			return
		}
		token := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(token) > len(prefix) {
			token = token[len(prefix):]
		}
		if bcrypt.CompareHashAndPassword(s.adminTokenHash, []byte(token)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) deleteRun(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}
	if err := s.runs.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// publishEquity is the --serve-url push target a live `run` invocation POSTs
// each EquityPoint to, so that any browser streaming /runs/:id/stream sees
// the run progress in real time instead of only a finished summary.
func (s *Server) publishEquity(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}
	var point model.EquityPoint
	if err := c.ShouldBindJSON(&point); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.hub.Publish(id, point)
	c.Status(http.StatusAccepted)
}

// completionRequest is the --serve-url payload a `run` invocation POSTs once
// it finishes, success or failure, so RecordCompletion's /metrics counters
// reflect real runs instead of only what apiserver_test.go exercises.
type completionRequest struct {
	Summary report.Summary `json:"summary"`
	Failed  bool           `json:"failed"`
}

func (s *Server) recordCompletion(c *gin.Context) {
	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.RecordCompletion(req.Summary, req.Failed)
	c.Status(http.StatusAccepted)
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEquity upgrades to a websocket and pushes every EquityPoint
// published to this run's hub channel, mirroring the teacher's
// SharedWSManager.dispatch broadcast.
func (s *Server) streamEquity(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(id)
	defer s.hub.Unsubscribe(id, sub)

	for point := range sub {
		data, err := json.Marshal(point)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// EquityHub fans out EquityPoints for in-flight runs to any number of
// websocket subscribers, the same shape as the teacher's SharedWSManager
// but scoped per run_id instead of per live-trading session.
type EquityHub struct {
	mu   sync.Mutex
	subs map[uint][]chan model.EquityPoint
}

func NewEquityHub() *EquityHub {
	return &EquityHub{subs: make(map[uint][]chan model.EquityPoint)}
}

func (h *EquityHub) Subscribe(runID uint) chan model.EquityPoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan model.EquityPoint, 16)
	h.subs[runID] = append(h.subs[runID], ch)
	return ch
}

func (h *EquityHub) Unsubscribe(runID uint, ch chan model.EquityPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[runID]
	for i, s := range subs {
		if s == ch {
			h.subs[runID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
}

// Publish pushes one equity point to every subscriber of runID, dropping it
// for any subscriber whose buffer is full rather than blocking the run.
func (h *EquityHub) Publish(runID uint, point model.EquityPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[runID] {
		select {
		case ch <- point:
		default:
		}
	}
}

// RecordCompletion tallies a finished run for /metrics: a failed run
// increments runsFailed, any other run increments runsTotal. The summary's
// contents are not inspected.
func (s *Server) RecordCompletion(summary report.Summary, failed bool) {
	if failed {
		s.runsFailed.Inc()
		return
	}
	s.runsTotal.Inc()
	_ = summary
}
