package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ephemeris-service/models"
	"ephemeris-service/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	// cacheableControl lets a CDN in front of the service hold answers for 30 minutes
	cacheableControl = "public, max-age=1800, s-maxage=1800"
	noStoreControl   = "no-store"

	maxBodyBytes = 1 << 20
)

// Service is the request handling the server exposes over HTTP
type Service interface {
	Handle(ctx context.Context, req orchestrator.PositionRequest) (orchestrator.PositionResponse, error)
	Strength(ctx context.Context, req orchestrator.StrengthRequest) (orchestrator.StrengthResponse, error)
	DayRuler(ctx context.Context, req orchestrator.DayRulerRequest) (orchestrator.DayRulerResponse, error)
}

// rejecter is implemented by services that record requests the server could not decode
type rejecter interface {
	Reject(ctx context.Context, endpoint string, cause error) error
}

// Server represents the API server
type Server struct {
	service Service
	server  *http.Server
	logger  logrus.FieldLogger
}

// NewServer creates a new API server listening on addr
func NewServer(service Service, addr string, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	server := &Server{
		service: service,
		logger:  logger,
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery(), server.logRequests(), cors())

	api := router.Group("/api")
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		api.Handle(method, "/planet-position", server.handlePlanetPosition)
		api.Handle(method, "/planet-strength", server.handlePlanetStrength)
		api.Handle(method, "/day-ruler", server.handleDayRuler)
	}

	// Health check
	api.GET("/health", server.handleHealthCheck)

	server.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server
}

// Handler returns the fully wrapped request handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins the API server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handlePlanetPosition handles position lookups by query string or JSON body
func (s *Server) handlePlanetPosition(c *gin.Context) {
	var req orchestrator.PositionRequest
	if !s.bind(c, orchestrator.EndpointPosition, &req) {
		return
	}

	resp, err := s.service.Handle(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

// handlePlanetStrength scores a planet at the requested moment
func (s *Server) handlePlanetStrength(c *gin.Context) {
	var req orchestrator.StrengthRequest
	if !s.bind(c, orchestrator.EndpointStrength, &req) {
		return
	}

	resp, err := s.service.Strength(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

// handleDayRuler reports the ruler of the requested day and its impact
func (s *Server) handleDayRuler(c *gin.Context) {
	var req orchestrator.DayRulerRequest
	if !s.bind(c, orchestrator.EndpointDayRuler, &req) {
		return
	}

	resp, err := s.service.DayRuler(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

// handleHealthCheck provides a simple health check endpoint
func (s *Server) handleHealthCheck(c *gin.Context) {
	c.Header("Cache-Control", noStoreControl)
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// bind reads the query string on GET and the JSON body on POST. On failure it
// records the rejection, writes the 400 response itself and reports false.
func (s *Server) bind(c *gin.Context, endpoint string, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(dst)
	} else {
		err = c.ShouldBindQuery(dst)
	}
	if err == nil {
		return true
	}

	var rejected error = &orchestrator.ValidationError{Field: "request", Reason: err.Error()}
	if r, ok := s.service.(rejecter); ok {
		rejected = r.Reject(c.Request.Context(), endpoint, err)
	}
	s.writeError(c, rejected)
	return false
}

// writeError maps validation failures to 400 and everything else to 500
func (s *Server) writeError(c *gin.Context, err error) {
	status := orchestrator.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	writeErrorBody(c, status, err.Error())
}

func writeErrorBody(c *gin.Context, status int, msg string) {
	c.Header("Cache-Control", noStoreControl)
	c.JSON(status, gin.H{
		"error":        msg,
		"cache_status": string(models.CacheError),
	})
}

func writeJSON(c *gin.Context, status int, v any) {
	c.Header("Cache-Control", cacheableControl)
	c.JSON(status, v)
}
