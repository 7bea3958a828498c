// Package api provides handlers for external APIs and interfaces
package api

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abelzeko/river-monitor/internal/entities"
	"github.com/abelzeko/river-monitor/internal/observability"
	"github.com/abelzeko/river-monitor/internal/usecases"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serverTimeLayout = "2006-01-02 15:04:05"

// fromLayouts are the accepted shapes of the ?from= parameter
var fromLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
}

// MeasurementQuerier is the read side the HTTP API needs
type MeasurementQuerier interface {
	GetMeasurements(ctx context.Context, limit int, from *time.Time) ([]entities.MeasurementRecord, error)
	GetLastFetch(ctx context.Context) (*entities.FetchLogEntry, error)
}

// TraceProvider runs a parse without persisting anything
type TraceProvider interface {
	DebugTrace(ctx context.Context) (*entities.ParseTrace, error)
}

// measurementDTO is one row of the dashboard payload; numbers are pre-rendered display strings
type measurementDTO struct {
	DateTime    string `json:"dateTime"`
	Level       string `json:"level"`
	Flow        string `json:"flow"`
	Temperature string `json:"temperature"`
}

type lastFetchDTO struct {
	Time    string `json:"time"`
	Status  string `json:"status"`
	Records int    `json:"records"`
}

type measurementsResponse struct {
	Success   bool             `json:"success"`
	Count     int              `json:"count"`
	Data      []measurementDTO `json:"data"`
	LastFetch *lastFetchDTO    `json:"lastFetch"`
	Timestamp string           `json:"timestamp"`
}

// HTTPServer exposes the read API consumed by the dashboard
type HTTPServer struct {
	addr     string
	queries  MeasurementQuerier
	tracer   TraceProvider
	metrics  *observability.Metrics
	clock    clockwork.Clock
	location *time.Location
	engine   *gin.Engine
	server   *http.Server
}

// NewHTTPServer wires the routes. tracer may be nil, in which case /debug/trace is not exposed.
func NewHTTPServer(addr string, queries MeasurementQuerier, tracer TraceProvider, metrics *observability.Metrics, clock clockwork.Clock, loc *time.Location) *HTTPServer {
	if addr == "" {
		addr = ":8080"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}

	s := &HTTPServer{
		addr:     addr,
		queries:  queries,
		tracer:   tracer,
		metrics:  metrics,
		clock:    clock,
		location: loc,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.countRequests())

	r.GET("/measurements", s.noCache(), s.handleMeasurements)
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if tracer != nil {
		r.GET("/debug/trace", s.noCache(), s.handleDebugTrace)
	}

	s.engine = r
	return s
}

// ServeHTTP delegates to the router, useful for testing
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Start begins serving in the background
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	log.Printf("Read API listening on %s", listener.Addr())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Read API server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully drains connections within the given context deadline
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if s.metrics == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// noCache sets the CORS and caching headers the dashboard expects
func (s *HTTPServer) noCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET")
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Next()
	}
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *HTTPServer) handleMeasurements(c *gin.Context) {
	ctx := c.Request.Context()
	limit := parseLimit(c.Query("limit"))

	var from *time.Time
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		t, ok := parseFrom(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid parameter",
				"message": "cannot parse from=" + raw,
			})
			return
		}
		from = &t
	}

	records, err := s.queries.GetMeasurements(ctx, limit, from)
	if err != nil {
		log.Printf("API Error: %v", err)
		s.serverError(c, err)
		return
	}

	lastFetch, err := s.queries.GetLastFetch(ctx)
	if err != nil {
		log.Printf("API Error: %v", err)
		s.serverError(c, err)
		return
	}

	data := make([]measurementDTO, 0, len(records))
	for _, rec := range records {
		data = append(data, measurementDTO{
			DateTime:    usecases.FormatDisplayTime(rec.Timestamp),
			Level:       usecases.FormatLevel(rec.WaterLevel),
			Flow:        usecases.FormatFlow(rec.FlowRate),
			Temperature: usecases.FormatTemperature(rec.Temperature),
		})
	}

	resp := measurementsResponse{
		Success:   true,
		Count:     len(data),
		Data:      data,
		Timestamp: s.clock.Now().In(s.location).Format(serverTimeLayout),
	}
	if lastFetch != nil {
		resp.LastFetch = &lastFetchDTO{
			Time:    lastFetch.FetchTime.In(s.location).Format(serverTimeLayout),
			Status:  string(lastFetch.Status),
			Records: lastFetch.RecordsInserted,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleDebugTrace(c *gin.Context) {
	trace, err := s.tracer.DebugTrace(c.Request.Context())
	if err != nil {
		log.Printf("Debug trace failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "Fetch error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, trace)
}

func (s *HTTPServer) serverError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "Database error",
		"message": err.Error(),
	})
}

// parseLimit applies the default to missing or non-numeric input and clamps everything else
func parseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return usecases.DefaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return usecases.DefaultLimit
	}
	return usecases.ClampLimit(n)
}

// parseFrom reads the bound as civil time, the same way stored timestamps are kept
func parseFrom(raw string) (time.Time, bool) {
	for _, layout := range fromLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
