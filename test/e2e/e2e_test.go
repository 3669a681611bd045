//go:build e2e
// +build e2e

/*
Copyright 2025 Lumina Contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"syscall"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nextdoor/riusage/pkg/usage"
	"github.com/nextdoor/riusage/test/utils"
)

func runOnce(args ...string) (string, error) {
	return utils.Run(exec.Command(binary, append([]string{"--config", configFile, "--once"}, args...)...))
}

var _ = Describe("One-shot report", func() {
	It("prints the plain-text table for the default region", func() {
		output, err := runOnce()
		Expect(err).NotTo(HaveOccurred())

		lines := utils.GetNonEmptyLines(output)
		Expect(lines).To(HaveLen(5))
		Expect(lines[0]).To(MatchRegexp(`on demand\s+spot\s+emr\s+reserved\s+unreserved\s+surplus`))
		Expect(lines[1]).To(MatchRegexp(`^c6\s+0\s+4\s+0\s+0\s+0\s+0$`))
		Expect(lines[2]).To(MatchRegexp(`^d5\s+4\s+0\s+0\s+0\s+4\s+0$`))
		Expect(lines[3]).To(MatchRegexp(`^i9\s+4\s+0\s+4\s+24\s+0\s+16$`))
		Expect(lines[4]).To(MatchRegexp(`^p7\s+4\s+0\s+0\s+8\s+0\s+4$`))
	})

	It("prints JSON for another region", func() {
		output, err := runOnce("--region", "us-east-1", "--output", "json")
		Expect(err).NotTo(HaveOccurred())

		var rows []usage.SummaryRow
		Expect(json.Unmarshal([]byte(output), &rows)).To(Succeed())
		Expect(rows).To(Equal([]usage.SummaryRow{
			{Family: "m5", OnDemand: 8, Unreserved: 8},
		}))
	})

	It("wraps the table for Slack", func() {
		output, err := runOnce("--output", "slack")
		Expect(err).NotTo(HaveOccurred())
		Expect(output).To(HavePrefix("```\n"))
		Expect(output).To(HaveSuffix("```\n"))
	})

	It("rejects unknown output formats", func() {
		_, err := runOnce("--output", "xml")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Standalone mode", Ordered, func() {
	var cmd *exec.Cmd
	ctx := context.Background()

	BeforeAll(func() {
		By("starting the service without Kubernetes")
		cmd = exec.Command(binary, "--config", configFile, "--no-kubernetes", "--metrics-secure=false")
		cmd.Stdout = GinkgoWriter
		cmd.Stderr = GinkgoWriter
		Expect(cmd.Start()).To(Succeed())

		DeferCleanup(func() {
			_ = cmd.Process.Signal(syscall.SIGTERM)
			_ = cmd.Wait()
		})

		Eventually(func() (int, error) {
			status, _, err := utils.Get(ctx, "http://"+apiAddr+"/healthz", nil)
			return status, err
		}, 30*time.Second, 500*time.Millisecond).Should(Equal(http.StatusOK))
	})

	It("serves the usage report", func() {
		status, body, err := utils.Get(ctx, "http://"+apiAddr+"/usage", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(MatchRegexp(`(?m)^i9\s+4\s+0\s+4\s+24\s+0\s+16$`))
	})

	It("serves JSON to clients that accept it", func() {
		status, body, err := utils.Get(ctx, "http://"+apiAddr+"/usage?region=us-east-1",
			http.Header{"Accept": {"application/json"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(HavePrefix(`[{"family":"m5"`))
	})

	It("lists unused reservations", func() {
		status, body, err := utils.Get(ctx, "http://"+apiAddr+"/usage/unused", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"reservationId":"ri-i9-a"`))
	})

	It("publishes usage metrics", func() {
		Eventually(func() (string, error) {
			_, body, err := utils.Get(ctx, "http://"+metricsAddr+"/metrics", nil)
			return body, err
		}, 30*time.Second, time.Second).Should(And(
			ContainSubstring(`riusage_controller_running 1`),
			ContainSubstring(`ec2_reservation_usage_units{bucket="surplus",instance_family="i9",region="us-west-2"} 16`),
			ContainSubstring(`ec2_reserved_instance_remaining_units{instance_family="i9",offering_class="convertible",region="us-west-2",reservation_id="ri-i9-a"} 10`),
		))
	})

	It("reports ready once credentials are checked", func() {
		Eventually(func() (int, error) {
			status, _, err := utils.Get(ctx, "http://"+probeAddr+"/readyz", nil)
			return status, err
		}, 30*time.Second, time.Second).Should(Equal(http.StatusOK))
	})
})
