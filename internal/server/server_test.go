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

package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nextdoor/riusage/internal/cache"
	"github.com/nextdoor/riusage/internal/server"
	"github.com/nextdoor/riusage/pkg/aws"
	"github.com/nextdoor/riusage/pkg/config"
	"github.com/nextdoor/riusage/pkg/usage"
)

// stubReporter summarizes a fixed inventory and records requested regions.
type stubReporter struct {
	mu      sync.Mutex
	regions []string
	input   usage.Input
	err     error
}

func (r *stubReporter) Report(_ context.Context, region string) (*usage.Result, error) {
	r.mu.Lock()
	r.regions = append(r.regions, region)
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return usage.NewSummarizer(logr.Discard()).Summarize(r.input)
}

func (r *stubReporter) lastRegion() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.regions) == 0 {
		return ""
	}
	return r.regions[len(r.regions)-1]
}

func mixedFleet() usage.Input {
	return usage.Input{
		Instances: []usage.Instance{
			{InstanceID: "i-1", Family: "i9", Size: "large", AvailabilityZone: "us-west-2a", Units: 4},
			{InstanceID: "i-2", Family: "p7", Size: "large", AvailabilityZone: "us-west-2a", Units: 4},
			{InstanceID: "i-3", Family: "d5", Size: "large", AvailabilityZone: "us-west-2a", Units: 4},
			{InstanceID: "i-4", Family: "c6", Size: "large", AvailabilityZone: "us-west-2a", Units: 4, Spot: true},
			{InstanceID: "i-5", Family: "i9", Size: "large", AvailabilityZone: "us-west-2a", Units: 4, ManagedCluster: true},
		},
		Reservations: []usage.ReservationSpec{
			{ID: "r-1", Family: "p7", Size: "small", OfferingClass: usage.Convertible, AvailabilityZone: usage.RegionalZone, Count: 8, Units: 8},
			{ID: "r-2", Family: "i9", Size: "small", OfferingClass: usage.Convertible, AvailabilityZone: usage.RegionalZone, Count: 18, Units: 18},
			{ID: "r-3", Family: "i9", Size: "small", OfferingClass: usage.Convertible, AvailabilityZone: usage.RegionalZone, Count: 4, Units: 4},
			{ID: "r-4", Family: "i9", Size: "small", OfferingClass: usage.Convertible, AvailabilityZone: usage.RegionalZone, Count: 2, Units: 2},
		},
	}
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func slashCommand(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/usage", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

var _ = Describe("Server", func() {
	var (
		reporter *stubReporter
		cfg      *config.Config
		srv      *server.Server
		router   *gin.Engine
	)

	BeforeEach(func() {
		reporter = &stubReporter{input: mixedFleet()}
		cfg = &config.Config{
			DefaultRegion: "us-west-2",
			Regions:       []string{"us-west-2", "us-east-1"},
		}
		srv = &server.Server{Reporter: reporter, Config: cfg, Log: logr.Discard()}
	})

	JustBeforeEach(func() {
		router = srv.Router()
	})

	Describe("GET /healthz", func() {
		It("responds ok", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("ok"))
		})
	})

	Describe("GET /usage", func() {
		It("renders the plain-text table for the default region", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(w.Body.String()).To(MatchRegexp(`on demand\s+spot\s+emr\s+reserved\s+unreserved\s+surplus`))
			Expect(w.Body.String()).To(MatchRegexp(`(?m)^i9\s+4\s+0\s+4\s+24\s+0\s+16$`))
			Expect(reporter.lastRegion()).To(Equal("us-west-2"))
		})

		It("uses the region query parameter", func() {
			serve(router, httptest.NewRequest(http.MethodGet, "/usage?region=us-east-1", nil))
			Expect(reporter.lastRegion()).To(Equal("us-east-1"))
		})

		It("matches configured regions case-insensitively", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage?region=US-EAST-1", nil))
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(reporter.lastRegion()).To(Equal("us-east-1"))
		})

		It("rejects regions that aren't configured without computing a report", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage?region=ap-south-1", nil))

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(ContainSubstring(`region "ap-south-1" is not configured`))
			Expect(reporter.lastRegion()).To(BeEmpty())
		})

		It("serves JSON when the client accepts it", func() {
			req := httptest.NewRequest(http.MethodGet, "/usage", nil)
			req.Header.Set("Accept", "application/json")
			w := serve(router, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(HavePrefix("application/json"))
			Expect(w.Body.String()).To(HavePrefix(`[{"family`))

			var rows []usage.SummaryRow
			Expect(json.Unmarshal(w.Body.Bytes(), &rows)).To(Succeed())
			Expect(rows).To(HaveLen(4))
			Expect(rows[3]).To(Equal(usage.SummaryRow{Family: "p7", OnDemand: 4, Reserved: 8, Surplus: 4}))
		})

		It("wraps the table in a code block for Slackbot", func() {
			req := httptest.NewRequest(http.MethodGet, "/usage", nil)
			req.Header.Set("User-Agent", "Slackbot 1.0 (+https://api.slack.com/robots)")
			w := serve(router, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(HavePrefix("```\n"))
			Expect(w.Body.String()).To(HaveSuffix("```\n"))
		})

		It("lets the format parameter override negotiation", func() {
			req := httptest.NewRequest(http.MethodGet, "/usage?format=json", nil)
			req.Header.Set("Accept", "text/html")
			w := serve(router, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(HavePrefix(`[{"family`))
		})

		It("rejects unknown formats", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage?format=xml", nil))
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(ContainSubstring("unknown output format"))
		})

		It("returns 500 when the report fails", func() {
			reporter.err = errors.New("RequestLimitExceeded")
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage", nil))

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).To(ContainSubstring("failed to build usage report for us-west-2"))
		})
	})

	Describe("POST /usage", func() {
		It("reads the region from the slash-command text", func() {
			w := serve(router, slashCommand(url.Values{"text": {"  us-east-1 "}}))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(reporter.lastRegion()).To(Equal("us-east-1"))
		})

		It("rejects an unknown region in the slash-command text", func() {
			w := serve(router, slashCommand(url.Values{"text": {"mars-north-1"}}))

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(reporter.lastRegion()).To(BeEmpty())
		})

		It("falls back to the default region on empty text", func() {
			serve(router, slashCommand(url.Values{"text": {"   "}}))
			Expect(reporter.lastRegion()).To(Equal("us-west-2"))
		})
	})

	Context("with a verification token", func() {
		BeforeEach(func() {
			cfg.Server.VerificationToken = "s3cret"
		})

		It("accepts a matching form token", func() {
			w := serve(router, slashCommand(url.Values{"token": {"s3cret"}, "text": {"us-east-1"}}))
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("accepts a matching query token", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage?token=s3cret", nil))
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("rejects a wrong token without computing a report", func() {
			w := serve(router, slashCommand(url.Values{"token": {"nope"}}))

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(w.Header().Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(w.Body.String()).To(Equal("authentication failed"))
			Expect(reporter.lastRegion()).To(BeEmpty())
		})

		It("rejects a missing token on the unused endpoint", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage/unused", nil))
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("leaves the health check open", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			Expect(w.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("GET /usage/unused", func() {
		It("lists reservations with capacity left in input order", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage/unused", nil))
			Expect(w.Code).To(Equal(http.StatusOK))

			var unused []server.UnusedReservation
			Expect(json.Unmarshal(w.Body.Bytes(), &unused)).To(Succeed())

			ids := make([]string, 0, len(unused))
			for _, r := range unused {
				ids = append(ids, r.ReservationID)
			}
			Expect(ids).To(Equal([]string{"r-1", "r-2", "r-3", "r-4"}))
			Expect(unused[1].RemainingUnits).To(Equal(10.0))
			Expect(unused[1].TotalUnits).To(Equal(18.0))
			Expect(unused[1].AvailabilityZone).To(Equal(usage.RegionalZone))
		})

		It("returns an empty array when everything is used", func() {
			reporter.input = usage.Input{}
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage/unused", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("[]"))
		})

		It("returns a JSON error when the report fails", func() {
			reporter.err = errors.New("AccessDenied")
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage/unused?region=us-east-1", nil))

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).To(ContainSubstring(`"region":"us-east-1"`))
		})

		It("returns a JSON error for an unknown region", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/usage/unused?region=eu-west-1", nil))

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(ContainSubstring("is not configured"))
			Expect(reporter.lastRegion()).To(BeEmpty())
		})
	})

	Describe("GET /debug/cache", func() {
		It("is not routed without a cache", func() {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/debug/cache", nil))
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		Context("with a cache", func() {
			BeforeEach(func() {
				inventory := cache.NewInventoryCache(time.Hour, time.Hour)
				inventory.SetInstancesIfGeneration("us-west-2", inventory.InstancesGeneration("us-west-2"), []aws.Instance{{InstanceID: "i-1"}})
				srv.Cache = inventory
			})

			It("reports fetch times per configured region", func() {
				w := serve(router, httptest.NewRequest(http.MethodGet, "/debug/cache", nil))
				Expect(w.Code).To(Equal(http.StatusOK))

				var body struct {
					Regions []server.CacheStatus `json:"regions"`
				}
				Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
				Expect(body.Regions).To(HaveLen(2))

				Expect(body.Regions[0].Region).To(Equal("us-west-2"))
				Expect(body.Regions[0].InstancesFetchedAt).NotTo(BeNil())
				Expect(body.Regions[0].ReservationsFetchedAt).To(BeNil())

				Expect(body.Regions[1].Region).To(Equal("us-east-1"))
				Expect(body.Regions[1].InstancesFetchedAt).To(BeNil())
			})

			It("flags the inventory as stale after two missed cycles", func() {
				now := time.Now()
				srv.Cache.SetClock(func() time.Time { return now })
				srv.Cache.SetInstancesIfGeneration("us-west-2", srv.Cache.InstancesGeneration("us-west-2"), nil)

				var body struct {
					Stale bool `json:"stale"`
				}
				w := serve(router, httptest.NewRequest(http.MethodGet, "/debug/cache", nil))
				Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
				Expect(body.Stale).To(BeFalse())

				now = now.Add(2*config.DefaultReconciliationInterval + time.Second)
				w = serve(router, httptest.NewRequest(http.MethodGet, "/debug/cache", nil))
				Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
				Expect(body.Stale).To(BeTrue())
			})
		})
	})

	Describe("Start", func() {
		It("returns when the context is cancelled with the server disabled", func() {
			cfg.Server.BindAddress = "0"
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- srv.Start(ctx) }()

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("serves until the context is cancelled", func() {
			cfg.Server.BindAddress = "127.0.0.1:0"
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- srv.Start(ctx) }()

			Consistently(done, 100*time.Millisecond).ShouldNot(Receive())
			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
		})
	})
})
