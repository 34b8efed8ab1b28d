package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"devgate/internal/config"
	"devgate/internal/metrics"
	"devgate/internal/supervisor"
)

// Router provides the admin API mounted on the admin listener.
// Endpoints:
//
//	GET  {basePath}/status        query: domain=... (optional, single record)
//	POST {basePath}/start         query: domain=...&manual=1 (manual optional)
//	POST {basePath}/stop          query: domain=...&force=1 (force optional)
//	POST {basePath}/restart       query: domain=...
//	POST {basePath}/reload        re-read the config file
//	GET  /metrics                 prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	registry *config.Registry
	reload   func() error
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, reg *config.Registry, reload func() error, basePath string) *Router {
	return &Router{
		sup:      sup,
		registry: reg,
		reload:   reload,
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/reload", r.handleReload)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone admin server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, reg *config.Registry, reload func() error) (*http.Server, error) {
	r := NewRouter(sup, reg, reload, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	domain := c.Query("domain")
	if domain == "" {
		writeJSON(c, http.StatusOK, r.sup.All())
		return
	}
	snap, ok := r.sup.Get(domain)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no record for domain " + domain})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleStart(c *gin.Context) {
	domain := c.Query("domain")
	if domain == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "domain query param required"})
		return
	}
	opts := supervisor.StartOptions{Manual: c.Query("manual") != ""}
	if err := r.sup.Start(c.Request.Context(), domain, opts); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, supervisor.ErrUnknownDomain) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	domain := c.Query("domain")
	if domain == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "domain query param required"})
		return
	}
	force := c.Query("force") != ""
	stopped, err := r.sup.Stop(c.Request.Context(), domain, force)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if !stopped {
		writeJSON(c, http.StatusOK, okResp{OK: false})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	domain := c.Query("domain")
	if domain == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "domain query param required"})
		return
	}
	if err := r.sup.Restart(c.Request.Context(), domain, supervisor.StartOptions{}); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, supervisor.ErrUnknownDomain) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleReload(c *gin.Context) {
	if r.reload == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "reload not configured"})
		return
	}
	if err := r.reload(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
