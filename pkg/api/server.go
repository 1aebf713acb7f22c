// Package api provides a read-only HTTP status API for a running chat
// server: presence, groups and counters. It never mutates protocol
// state.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatnet/chatapp/pkg/network"
)

// Config holds API server configuration.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default API configuration for port.
func DefaultConfig(port int) *Config {
	return &Config{
		Port:         port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves the status API over a running chat server.
type Server struct {
	core       *network.Server
	router     *gin.Engine
	httpServer *http.Server
}

// StatusResponse is the GET /api/v1/status body.
type StatusResponse struct {
	UptimeSeconds float64       `json:"uptimeSeconds"`
	Clients       int           `json:"clients"`
	Groups        int           `json:"groups"`
	Stats         network.Stats `json:"stats"`
}

// NewServer creates the API server for core.
func NewServer(core *network.Server, config *Config) *Server {
	if config == nil {
		config = DefaultConfig(0)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	s := &Server{
		core:   core,
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/clients", s.handleClients)
		v1.GET("/groups", s.handleGroups)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	presence := s.core.PresenceSnapshot()
	groups := s.core.GroupSnapshot()
	c.JSON(http.StatusOK, StatusResponse{
		UptimeSeconds: s.core.Uptime().Seconds(),
		Clients:       len(presence),
		Groups:        len(groups),
		Stats:         s.core.Stats(),
	})
}

func (s *Server) handleClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": s.core.PresenceSnapshot()})
}

func (s *Server) handleGroups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": s.core.GroupSnapshot()})
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️  API server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
