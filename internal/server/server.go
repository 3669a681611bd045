// Copyright 2025 Lumina Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the reservation usage report over HTTP.
//
// Endpoints:
//   - GET|POST /usage         - usage table for one region
//   - GET      /usage/unused  - reservations with capacity left
//   - GET      /debug/cache   - inventory cache ages per region
//   - GET      /healthz       - liveness ping
//
// POST /usage accepts a Slack slash-command payload: the region is read
// from the "text" field and the caller is verified with the "token" field.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"github.com/nextdoor/riusage/internal/cache"
	"github.com/nextdoor/riusage/pkg/config"
	"github.com/nextdoor/riusage/pkg/report"
	"github.com/nextdoor/riusage/pkg/usage"
)

// shutdownTimeout bounds how long in-flight reports may run after the
// server is asked to stop.
const shutdownTimeout = 10 * time.Second

// staleAfterCycles is how many reconciliation intervals may pass without a
// cache write before the debug endpoint flags the inventory as stale.
const staleAfterCycles = 2

// Reporter computes a usage report for a region.
type Reporter interface {
	Report(ctx context.Context, region string) (*usage.Result, error)
}

// Server serves usage reports. Cache is optional and only feeds the debug
// endpoint.
type Server struct {
	Reporter Reporter
	Config   *config.Config
	Cache    *cache.InventoryCache
	Log      logr.Logger
}

// UnusedReservation is the JSON view of a reservation with capacity left.
type UnusedReservation struct {
	ReservationID    string  `json:"reservationId"`
	Family           string  `json:"family"`
	Size             string  `json:"size"`
	OfferingClass    string  `json:"offeringClass"`
	AvailabilityZone string  `json:"availabilityZone"`
	Count            int     `json:"count"`
	TotalUnits       float64 `json:"totalUnits"`
	RemainingUnits   float64 `json:"remainingUnits"`
}

// CacheStatus reports when each inventory kind was last fetched for a region.
type CacheStatus struct {
	Region                string     `json:"region"`
	InstancesFetchedAt    *time.Time `json:"instancesFetchedAt,omitempty"`
	ReservationsFetchedAt *time.Time `json:"reservationsFetchedAt,omitempty"`
}

// Router builds the gin engine serving every endpoint.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	usageGroup := router.Group("/usage", s.verifyToken())
	usageGroup.GET("", s.handleUsage)
	usageGroup.POST("", s.handleUsage)
	usageGroup.GET("/unused", s.handleUnused)

	if s.Cache != nil {
		router.GET("/debug/cache", s.handleCacheStatus)
	}

	return router
}

// Start serves on Config.Server.BindAddress until ctx is cancelled. A bind
// address of "0" disables the server and Start blocks until ctx is done.
// The signature matches manager.RunnableFunc.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Config.Server.BindAddress
	if addr == "0" || addr == "" {
		s.Log.Info("report API disabled")
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("starting report API server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("report API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.Log.Info("shutting down report API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.V(1).Info("handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String())
	}
}

// verifyToken rejects callers that don't present the configured
// verification token. With no token configured every caller is accepted.
func (s *Server) verifyToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := s.Config.Server.VerificationToken
		if expected == "" {
			c.Next()
			return
		}

		token := c.PostForm("token")
		if token == "" {
			token = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			s.Log.Info("rejected request with bad verification token", "path", c.Request.URL.Path)
			c.String(http.StatusUnauthorized, "authentication failed")
			c.Abort()
			return
		}
		c.Next()
	}
}

// region resolves the requested region: the "region" query parameter,
// then the slash-command "text" field, then the configured default.
// Regions outside the configuration are rejected.
func (s *Server) region(c *gin.Context) (string, error) {
	requested := strings.TrimSpace(c.Query("region"))
	if requested == "" {
		requested = strings.TrimSpace(c.PostForm("text"))
	}
	if requested == "" {
		return s.Config.GetDefaultRegion(), nil
	}
	region, ok := s.Config.ResolveRegion(requested)
	if !ok {
		return "", fmt.Errorf("region %q is not configured", requested)
	}
	return region, nil
}

func (s *Server) handleUsage(c *gin.Context) {
	format := report.Negotiate(c.GetHeader("Accept"), c.GetHeader("User-Agent"))
	if name := c.Query("format"); name != "" {
		f, err := report.ParseFormat(name)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}

	region, err := s.region(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.Reporter.Report(c.Request.Context(), region)
	if err != nil {
		s.Log.Error(err, "failed to build usage report", "region", region)
		c.String(http.StatusInternalServerError, "failed to build usage report for %s: %v", region, err)
		return
	}

	body, err := report.Render(format, result.Rows)
	if err != nil {
		s.Log.Error(err, "failed to render usage report", "region", region, "format", format)
		c.String(http.StatusInternalServerError, "failed to render usage report: %v", err)
		return
	}
	c.Data(http.StatusOK, format.ContentType(), body)
}

func (s *Server) handleUnused(c *gin.Context) {
	region, err := s.region(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.Reporter.Report(c.Request.Context(), region)
	if err != nil {
		s.Log.Error(err, "failed to build usage report", "region", region)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "region": region})
		return
	}

	unused := make([]UnusedReservation, 0, len(result.Unused))
	for _, r := range result.Unused {
		unused = append(unused, UnusedReservation{
			ReservationID:    r.ID(),
			Family:           r.Family(),
			Size:             r.Size(),
			OfferingClass:    string(r.OfferingClass()),
			AvailabilityZone: r.AvailabilityZone(),
			Count:            r.Count(),
			TotalUnits:       r.TotalUnits(),
			RemainingUnits:   r.RemainingUnits(),
		})
	}
	c.JSON(http.StatusOK, unused)
}

func (s *Server) handleCacheStatus(c *gin.Context) {
	regions := s.Config.GetRegions()
	statuses := make([]CacheStatus, 0, len(regions))
	for _, region := range regions {
		statuses = append(statuses, CacheStatus{
			Region:                region,
			InstancesFetchedAt:    timePtr(s.Cache.FetchedAt(cache.KindInstances, region)),
			ReservationsFetchedAt: timePtr(s.Cache.FetchedAt(cache.KindReservations, region)),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"lastUpdate": s.Cache.GetLastUpdate(),
		"stale":      s.Cache.IsStale(staleAfterCycles * s.Config.GetReconciliationInterval()),
		"regions":    statuses,
	})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
