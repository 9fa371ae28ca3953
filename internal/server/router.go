package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/svcdeck/internal/broadcast"
	"github.com/loykin/svcdeck/internal/config"
	"github.com/loykin/svcdeck/internal/metrics"
	"github.com/loykin/svcdeck/internal/service"
	"github.com/loykin/svcdeck/internal/supervisor"
)

const Version = "2.0.0"

// StatsSource reports host resource usage.
type StatsSource interface {
	Collect(ctx context.Context) metrics.HostStats
}

// Options wires the router to the daemon's components.
type Options struct {
	Supervisor *supervisor.Supervisor
	Settings   *config.Live
	Hub        *broadcast.Hub
	Stats      StatsSource
	// BasePath prefixes the REST routes, e.g. "/api".
	BasePath string
	// Metrics mounts /metrics when set.
	Metrics bool
}

// Router serves the REST API, the websocket push channel and /metrics.
// Endpoints under {basePath}:
//
//	GET    /services                     registered specs
//	GET    /status                       status of every service
//	GET    /settings, POST /settings     read or partially update settings
//	GET    /stats                        host cpu, memory and disk
//	GET    /port-conflicts               ports claimed by several services
//	POST   /service/add                  register a service
//	DELETE /service/:name                unregister a service
//	POST   /service/:name/start|stop|restart|scan-ports
//	POST   /bulk/stop/:kind
type Router struct {
	sup      *supervisor.Supervisor
	settings *config.Live
	hub      *broadcast.Hub
	stats    StatsSource
	basePath string
	metrics  bool
}

func NewRouter(o Options) *Router {
	r := &Router{
		sup:      o.Supervisor,
		settings: o.Settings,
		hub:      o.Hub,
		stats:    o.Stats,
		basePath: sanitizeBase(o.BasePath),
		metrics:  o.Metrics,
	}
	if r.settings == nil {
		r.settings = config.NewLive(config.DefaultSettings(), nil)
	}
	if r.stats == nil {
		r.stats = metrics.NewHostCollector()
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), cors())
	g.GET("/health", r.handleHealth)
	g.GET("/ws", r.handleWS)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	group := g.Group(r.basePath)
	group.GET("/services", r.handleServices)
	group.GET("/status", r.handleStatus)
	group.GET("/settings", r.handleGetSettings)
	group.POST("/settings", r.handleUpdateSettings)
	group.GET("/stats", r.handleStats)
	group.GET("/port-conflicts", r.handleConflicts)
	group.POST("/service/add", r.handleAdd)
	group.DELETE("/service/:name", r.handleDelete)
	group.POST("/service/:name/start", r.handleStart)
	group.POST("/service/:name/stop", r.handleStop)
	group.POST("/service/:name/restart", r.handleRestart)
	group.POST("/service/:name/scan-ports", r.handleScanPorts)
	group.POST("/bulk/stop/:kind", r.handleBulkStop)
	return g
}

// OnChange turns supervisor notifications into pushes. It returns at once;
// delivery happens in the background.
func (r *Router) OnChange(c supervisor.Change) {
	if r.hub == nil {
		return
	}
	go func() {
		ctx := context.Background()
		switch c.Kind {
		case supervisor.ChangeAdded:
			if c.Spec != nil {
				r.hub.Publish(ctx, broadcast.ServiceAdded(*c.Spec))
			}
		case supervisor.ChangeDeleted:
			r.hub.Publish(ctx, broadcast.ServiceDeleted(c.Service))
		}
		r.hub.Snapshot(ctx)
	}()
}

// NewServer listens on addr and serves h in the background. Bind errors are
// returned immediately.
func NewServer(addr string, h http.Handler, tlsCfg *tls.Config) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type messageResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type healthResp struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	ServicesCount int    `json:"services_count"`
}

type addResp struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Warnings []string `json:"warnings"`
}

type validationResp struct {
	Message  string   `json:"message"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

type errorResp struct {
	Message string `json:"message"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{Status: "healthy", Version: Version, ServicesCount: r.sup.Len()})
}

func (r *Router) handleServices(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Services())
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.StatusAll(c.Request.Context()))
}

func (r *Router) handleGetSettings(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.settings.Get())
}

func (r *Router) handleUpdateSettings(c *gin.Context) {
	var u config.SettingsUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Message: "invalid JSON: " + err.Error()})
		return
	}
	s, err := r.settings.Update(u)
	if err != nil {
		slog.Error("save settings failed", "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Message: err.Error()})
		return
	}
	if r.hub != nil {
		go r.hub.Publish(context.Background(), broadcast.SettingsUpdated(s))
	}
	writeJSON(c, http.StatusOK, messageResp{Success: true, Message: "Settings updated"})
}

func (r *Router) handleStats(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.stats.Collect(c.Request.Context()))
}

func (r *Router) handleConflicts(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.PortConflicts())
}

func (r *Router) handleAdd(c *gin.Context) {
	var spec service.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Message: "invalid JSON: " + err.Error()})
		return
	}
	v, err := r.sup.Add(opCtx(c), spec)
	var ve *supervisor.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(c, http.StatusBadRequest, validationResp{Message: "Service validation failed", Issues: ve.Issues, Warnings: ve.Warnings})
		return
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Message: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, addResp{Success: true, Message: "Service added successfully", Warnings: v.Warnings})
}

func (r *Router) handleDelete(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Delete(opCtx(c), c.Param("name")))
}

func (r *Router) handleStart(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Start(opCtx(c), c.Param("name")))
}

// handleStop accepts an optional ?timeout= duration before escalating to kill.
func (r *Router) handleStop(c *gin.Context) {
	name := c.Param("name")
	if ts := c.Query("timeout"); ts != "" {
		d, err := time.ParseDuration(ts)
		if err != nil || d <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Message: "invalid timeout: " + ts})
			return
		}
		writeJSON(c, http.StatusOK, r.sup.StopWithTimeout(opCtx(c), name, d))
		return
	}
	writeJSON(c, http.StatusOK, r.sup.Stop(opCtx(c), name))
}

func (r *Router) handleRestart(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Restart(opCtx(c), c.Param("name")))
}

func (r *Router) handleScanPorts(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.ScanPorts(c.Request.Context(), c.Param("name")))
}

func (r *Router) handleBulkStop(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.BulkStop(opCtx(c), c.Param("kind")))
}

// opCtx detaches lifecycle operations from the request so a client hanging
// up mid-stop doesn't turn a graceful stop into an immediate kill.
func opCtx(c *gin.Context) context.Context { return context.WithoutCancel(c.Request.Context()) }
