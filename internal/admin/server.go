// Package admin serves health, readiness, metrics and session status over
// HTTP for one engine.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/dbgwire/internal/auth"
	"github.com/danmuck/dbgwire/internal/engine"
	"github.com/danmuck/dbgwire/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Source is the session the admin server reports on and controls.
type Source interface {
	Status() engine.Status
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

var ErrUnknownAction = errors.New("admin: unknown action")

type Options struct {
	CorsOrigins []string
	// Token guards the /actions routes when set.
	Token string
}

type Server struct {
	Addr    string
	source  Source
	router  *gin.Engine
	started time.Time
	logger  zerolog.Logger
	guard   auth.Validator
}

func New(addr string, source Source, opts Options) *Server {
	observability.RegisterMetrics()
	status := source.Status()
	logger := observability.ComponentLogger("admin", status.Session)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(status.Session))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:    addr,
		source:  source,
		router:  r,
		started: time.Now(),
		logger:  logger,
	}
	if opts.Token != "" {
		s.guard = auth.StaticToken{Token: opts.Token}
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.source.Status()
		code := http.StatusOK
		if !st.Connected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":       st.Connected,
			"session":     st.Session,
			"target_dead": st.TargetDead,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Status())
	})

	s.router.POST("/actions/:action", auth.RequireToken(s.guard), func(c *gin.Context) {
		action := c.Param("action")
		if err := s.run(c.Request.Context(), action); err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, ErrUnknownAction) {
				code = http.StatusNotFound
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		s.logger.Info().Str("action", action).Msg("admin.action executed")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "action": action})
	})
}

func (s *Server) run(ctx context.Context, action string) error {
	switch action {
	case "suspend":
		return s.source.Suspend(ctx)
	case "resume":
		return s.source.Resume(ctx)
	}
	return ErrUnknownAction
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin.Serve listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
