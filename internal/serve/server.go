// Package serve exposes local WVD devices over the remote CDM API.
package serve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/devatadev/gowvcdm/internal/config"
	"github.com/devatadev/gowvcdm/wv"
)

// sessionTTL bounds how long a session waits for its license.
const sessionTTL = 10 * time.Minute

type openSession struct {
	id     []byte
	cdm    *wv.CDM
	device string
	opened time.Time
}

// Server answers GetChallenge, GetKeys and GetKeysX for the users and
// devices of a config.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics
	router  *gin.Engine
	now     func() time.Time

	mu       sync.Mutex
	devices  map[string]*wv.LocalDevice
	cdms     map[string]*wv.CDM
	sessions map[string]*openSession
}

func New(cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  newMetrics(),
		now:      time.Now,
		devices:  make(map[string]*wv.LocalDevice),
		cdms:     make(map[string]*wv.CDM),
		sessions: make(map[string]*openSession),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *gin.Engine {
	var router *gin.Engine
	if s.cfg.Serve.Release() {
		gin.SetMode(gin.ReleaseMode)
		router = gin.New()
		router.Use(gin.Recovery())
	} else {
		router = gin.Default()
	}

	// set response headers
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		c.Header("X-Request-Via", "GoWVServe")
		c.Next()
	})

	running := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  http.StatusOK,
			"message": "GoWVServe is running!",
		})
	}
	router.GET("/", running)
	router.HEAD("/", running)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  http.StatusOK,
			"message": "pong",
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	router.POST("/api", s.handleRPC)

	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Serve.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Serve.ReadTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server started",
			slog.String("address", srv.Addr),
			slog.Bool("release", s.cfg.Serve.Release()),
			slog.Int("devices", len(s.cfg.Devices)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Serve.ShutdownTimeout)
		defer cancel()
		s.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// device loads a WVD file once.
func (s *Server) device(name string) (*wv.LocalDevice, error) {
	if d, ok := s.devices[name]; ok {
		return d, nil
	}

	path, ok := s.cfg.DevicePaths()[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown device %q", wv.ErrInvalidInput, name)
	}
	wvd, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wvd file: %w", err)
	}
	d, err := wv.NewLocalDevice(wv.FromWVD(bytes.NewReader(wvd)))
	if err != nil {
		return nil, fmt.Errorf("load device %q: %w", name, err)
	}

	s.logger.Info("device loaded",
		slog.String("device", name),
		slog.String("type", d.Type().String()),
		slog.Uint64("system_id", uint64(d.SystemID())))
	s.devices[name] = d
	return d, nil
}

// cdm returns the CDM of a user and device, creating it on first use.
func (s *Server) cdm(token, device string) (*wv.CDM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := token + "/" + device
	if cdm, ok := s.cdms[key]; ok {
		return cdm, nil
	}

	d, err := s.device(device)
	if err != nil {
		return nil, err
	}
	cdm := wv.NewCDM(d, wv.WithLogger(s.logger.With(slog.String("device", device))))
	s.cdms[key] = cdm
	return cdm, nil
}

func sessionKey(token, sessionId string) string {
	return token + "/" + sessionId
}

func (s *Server) addSession(token, sessionId string, session *openSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.opened = s.now()
	s.sessions[sessionKey(token, sessionId)] = session
	s.metrics.sessions.Set(float64(len(s.sessions)))
}

// OpenSessions returns the number of sessions awaiting a license.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// takeSession removes a session so that a license is parsed at most once.
func (s *Server) takeSession(token, sessionId string) (*openSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(token, sessionId)
	session, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
		s.metrics.sessions.Set(float64(len(s.sessions)))
	}
	return session, ok
}

// expireSessions closes sessions that never received a license.
func (s *Server) expireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.now().Add(-sessionTTL)
	for key, session := range s.sessions {
		if session.opened.Before(deadline) {
			session.cdm.Close(session.id)
			delete(s.sessions, key)
		}
	}
	s.metrics.sessions.Set(float64(len(s.sessions)))
}
