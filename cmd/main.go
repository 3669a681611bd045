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

// Main entrypoint for the riusage service.
//
// Coverage: Excluded - main entrypoints are tested via E2E tests

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/nextdoor/riusage/internal/cache"
	"github.com/nextdoor/riusage/internal/controller"
	"github.com/nextdoor/riusage/internal/server"
	"github.com/nextdoor/riusage/pkg/aws"
	"github.com/nextdoor/riusage/pkg/config"
	"github.com/nextdoor/riusage/pkg/metrics"
	"github.com/nextdoor/riusage/pkg/report"
	// +kubebuilder:scaffold:imports
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

// coverage:ignore - initialization code, tested via E2E
func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	// +kubebuilder:scaffold:scheme
}

// components is everything the reconciler and the report API share.
type components struct {
	awsClient  aws.Client
	inventory  *cache.InventoryCache
	metrics    *metrics.Metrics
	reconciler *controller.UsageReconciler
	monitor    *aws.CredentialMonitor
	api        *server.Server
}

// newAWSClient returns a client backed by the snapshot file when one is
// configured, and by the AWS API otherwise.
func newAWSClient(ctx context.Context, cfg *config.Config) (aws.Client, error) {
	if cfg.SnapshotFile != "" {
		snap, err := aws.LoadSnapshot(cfg.SnapshotFile)
		if err != nil {
			return nil, err
		}
		setupLog.Info("serving inventory from snapshot",
			"snapshot-file", cfg.SnapshotFile,
			"instances", len(snap.Instances),
			"reserved-instances", len(snap.ReservedInstances))
		return aws.NewSnapshotClient(snap), nil
	}

	client, err := aws.NewClient(ctx, aws.ClientConfig{DefaultRegion: cfg.GetDefaultRegion()})
	if err != nil {
		return nil, fmt.Errorf("unable to create AWS client: %w", err)
	}
	setupLog.Info("created AWS client")
	return client, nil
}

// newComponents wires the shared pieces. reg may be nil, in which case no
// metrics are published.
func newComponents(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*components, error) {
	awsClient, err := newAWSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &components{
		awsClient: awsClient,
		inventory: cache.NewInventoryCache(cfg.GetInstancesTTL(), cfg.GetReservationsTTL()),
	}
	setupLog.Info("initialized inventory cache",
		"instances-ttl", cfg.GetInstancesTTL().String(),
		"reservations-ttl", cfg.GetReservationsTTL().String())

	if reg != nil {
		c.metrics = metrics.NewMetrics(reg)
		c.metrics.ControllerRunning.Set(1)
		setupLog.Info("metrics initialized and controller running metric set")
	}

	c.reconciler = &controller.UsageReconciler{
		Loader: &controller.InventoryLoader{
			AWSClient: awsClient,
			Config:    cfg,
			Cache:     c.inventory,
			Metrics:   c.metrics,
			Log:       ctrl.Log.WithName("inventory-loader"),
		},
		Config:  cfg,
		Metrics: c.metrics,
		Log:     ctrl.Log.WithName("usage-reconciler"),
	}

	// The monitor checks credentials in the background so readiness probes
	// answer from memory instead of calling AWS on every probe.
	var recorder aws.ValidationRecorder
	if c.metrics != nil {
		recorder = c.metrics
	}
	c.monitor = aws.NewCredentialMonitor(
		aws.NewAccountValidator(awsClient),
		cfg.AWSAccounts,
		cfg.GetDefaultRegion(),
		cfg.GetAccountValidationInterval(),
		recorder,
		ctrl.Log.WithName("credential-monitor"),
	)

	c.api = &server.Server{
		Reporter: c.reconciler,
		Config:   cfg,
		Cache:    c.inventory,
		Log:      ctrl.Log.WithName("report-api"),
	}
	return c, nil
}

// runOnce prints one report to stdout.
//
// coverage:ignore - tested via E2E
func runOnce(ctx context.Context, cfg *config.Config, region, output string) error {
	format, err := report.ParseFormat(output)
	if err != nil {
		return err
	}
	if region == "" {
		region = cfg.GetDefaultRegion()
	}

	c, err := newComponents(ctx, cfg, nil)
	if err != nil {
		return err
	}

	result, err := c.reconciler.Report(ctx, region)
	if err != nil {
		return err
	}
	body, err := report.Render(format, result.Rows)
	if err != nil {
		return err
	}
	if _, err := os.Stdout.Write(body); err != nil {
		return err
	}
	if format == report.FormatJSON {
		_, err = fmt.Fprintln(os.Stdout)
	}
	return err
}

// runValidate checks access to every configured account once and exits.
//
// coverage:ignore - tested via E2E
func runValidate(ctx context.Context, cfg *config.Config) error {
	awsClient, err := newAWSClient(ctx, cfg)
	if err != nil {
		return err
	}
	checker := aws.NewHealthChecker(aws.NewAccountValidator(awsClient), cfg.GetAccounts(), cfg.GetDefaultRegion())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/readyz", nil)
	if err != nil {
		return err
	}
	if err := checker.Check(req); err != nil {
		return err
	}
	setupLog.Info("all AWS accounts are accessible", "check", checker.Name(), "accounts", len(cfg.GetAccounts()))
	return nil
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down.
//
// coverage:ignore - standalone mode, tested manually or via E2E
func serveHTTP(ctx context.Context, log logr.Logger, srv *http.Server, certFile, keyFile string) {
	go func() {
		var err error
		if certFile != "" {
			log.Info("starting server with TLS", "address", srv.Addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Info("starting server", "address", srv.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "server stopped with error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// runStandalone runs without Kubernetes: the usage reconciler runs on a
// plain ticker and metrics, health probes and the report API are served by
// ordinary HTTP servers. Nodes aren't watched, so the instance cache only
// expires by TTL.
//
// Metrics are served without authentication; use it for local development.
//
// coverage:ignore - standalone mode, tested manually or via E2E
func runStandalone(
	ctx context.Context,
	cfg *config.Config,
	metricsAddr string,
	probeAddr string,
	secureMetrics bool,
	metricsCertPath, metricsCertName, metricsCertKey string,
	tlsOpts []func(*tls.Config),
) error {
	setupLog.Info("starting in standalone mode (no Kubernetes integration)")

	metricsRegistry := ctrlmetrics.Registry
	c, err := newComponents(ctx, cfg, metricsRegistry)
	if err != nil {
		return err
	}
	defer c.metrics.Stop()

	go func() {
		if err := c.reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			setupLog.Error(err, "usage reconciler stopped with error")
		}
	}()
	setupLog.Info("started usage reconciler in standalone mode")

	c.monitor.Start(ctx)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

	var certFile, keyFile string
	if secureMetrics && metricsCertPath != "" {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		for _, opt := range tlsOpts {
			opt(tlsConfig)
		}
		metricsServer.TLSConfig = tlsConfig
		certFile = filepath.Join(metricsCertPath, metricsCertName)
		keyFile = filepath.Join(metricsCertPath, metricsCertKey)
	} else if secureMetrics {
		setupLog.Info("TLS requested but no certificates provided, using HTTP instead")
	}
	if metricsAddr != "0" {
		serveHTTP(ctx, setupLog.WithName("metrics"), metricsServer, certFile, keyFile)
	}

	healthHandler := &healthz.Handler{
		Checks: map[string]healthz.Checker{
			"healthz": healthz.Ping,
			"readyz":  c.monitor.Check,
		},
	}
	healthMux := http.NewServeMux()
	healthMux.Handle("/healthz", http.StripPrefix("/healthz", healthHandler))
	healthMux.Handle("/readyz", http.StripPrefix("/readyz", healthHandler))
	serveHTTP(ctx, setupLog.WithName("health"),
		&http.Server{Addr: probeAddr, Handler: healthMux, ReadHeaderTimeout: 10 * time.Second}, "", "")

	if err := c.api.Start(ctx); err != nil {
		return err
	}
	setupLog.Info("shutting down standalone mode")
	return nil
}

// logLevel maps the configured level onto zap. "debug" also enables the
// per-instance match logs written at V(2).
func logLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.Level(-2)
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// loadConfig loads path, falling back to defaults and environment variables
// when the file doesn't exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return config.LoadDefaults()
	}
	return nil, err
}

// nolint:gocyclo
// coverage:ignore - main entrypoint, tested via E2E
func main() {
	var metricsAddr string
	var metricsCertPath, metricsCertName, metricsCertKey string
	var enableLeaderElection bool
	var probeAddr string
	var secureMetrics bool
	var metricsAuth bool
	var enableHTTP2 bool
	var configFile string
	var noKubernetes bool
	var once bool
	var validate bool
	var region string
	var output string
	var tlsOpts []func(*tls.Config)
	flag.StringVar(&configFile, "config", "/etc/riusage/config.yaml",
		"Path to the configuration file. Can be overridden with RIUSAGE_CONFIG_PATH environment variable.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", "", "The address the metrics endpoint binds to. "+
		"Use :8443 for HTTPS or :8080 for HTTP, or 0 to disable the metrics service. "+
		"Defaults to metricsBindAddress from the config file.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", "",
		"The address the probe endpoint binds to. Defaults to healthProbeBindAddress from the config file.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flag.BoolVar(&secureMetrics, "metrics-secure", true,
		"If set, the metrics endpoint is served securely via HTTPS. Use --metrics-secure=false to use HTTP instead.")
	flag.BoolVar(&metricsAuth, "metrics-auth", false,
		"If set, the metrics endpoint requires Kubernetes RBAC authentication.")
	flag.BoolVar(&noKubernetes, "no-kubernetes", false,
		"Run in standalone mode without Kubernetes integration.")
	flag.BoolVar(&once, "once", false,
		"Print a single usage report to stdout and exit.")
	flag.BoolVar(&validate, "validate-credentials", false,
		"Check access to every configured AWS account and exit.")
	flag.StringVar(&region, "region", "", "Region reported on by --once. Defaults to defaultRegion.")
	flag.StringVar(&output, "output", string(report.FormatText), "Output format for --once: text, json or slack.")
	flag.StringVar(&metricsCertPath, "metrics-cert-path", "",
		"The directory that contains the metrics server certificate.")
	flag.StringVar(&metricsCertName, "metrics-cert-name", "tls.crt", "The name of the metrics server certificate file.")
	flag.StringVar(&metricsCertKey, "metrics-cert-key", "tls.key", "The name of the metrics server key file.")
	flag.BoolVar(&enableHTTP2, "enable-http2", false,
		"If set, HTTP/2 will be enabled for the metrics server")
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	if envConfigPath := os.Getenv("RIUSAGE_CONFIG_PATH"); envConfigPath != "" {
		configFile = envConfigPath
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
		setupLog.Error(err, "failed to load configuration", "config-file", configFile)
		os.Exit(1)
	}

	if opts.Level == nil {
		opts.Level = logLevel(cfg.LogLevel)
	}
	if once {
		// Keep stdout for the report.
		opts.DestWriter = os.Stderr
	}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	setupLog.Info("loaded configuration",
		"config-file", configFile,
		"accounts", len(cfg.AWSAccounts),
		"default-region", cfg.GetDefaultRegion(),
		"regions", cfg.GetRegions(),
		"log-level", cfg.LogLevel)

	if metricsAddr == "" {
		metricsAddr = cfg.MetricsBindAddress
	}
	if probeAddr == "" {
		probeAddr = cfg.HealthProbeBindAddress
	}

	ctx := ctrl.SetupSignalHandler()

	if validate {
		if err := runValidate(ctx, cfg); err != nil {
			setupLog.Error(err, "credential validation failed")
			os.Exit(1)
		}
		return
	}

	if once {
		if err := runOnce(ctx, cfg, region, output); err != nil {
			setupLog.Error(err, "failed to build usage report")
			os.Exit(1)
		}
		return
	}

	// if the enable-http2 flag is false (the default), http/2 should be disabled
	// due to its vulnerabilities. More specifically, disabling http/2 will
	// prevent from being vulnerable to the HTTP/2 Stream Cancellation and
	// Rapid Reset CVEs. For more information see:
	// - https://github.com/advisories/GHSA-qppj-fm5r-hxr3
	// - https://github.com/advisories/GHSA-4374-p667-p6c8
	disableHTTP2 := func(c *tls.Config) {
		setupLog.Info("disabling http/2")
		c.NextProtos = []string{"http/1.1"}
	}

	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	if noKubernetes {
		if err := runStandalone(ctx, cfg, metricsAddr, probeAddr, secureMetrics,
			metricsCertPath, metricsCertName, metricsCertKey, tlsOpts); err != nil {
			setupLog.Error(err, "standalone mode failed")
			os.Exit(1)
		}
		return
	}

	setupLog.Info("starting in Kubernetes mode")

	// More info:
	// - https://pkg.go.dev/sigs.k8s.io/controller-runtime/pkg/metrics/server
	// - https://book.kubebuilder.io/reference/metrics.html
	metricsServerOptions := metricsserver.Options{
		BindAddress:   metricsAddr,
		SecureServing: secureMetrics,
		TLSOpts:       tlsOpts,
	}

	if metricsAuth {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}

	// Without a certificate controller-runtime generates a self-signed one,
	// which is fine for development but not for production.
	if len(metricsCertPath) > 0 {
		setupLog.Info("Initializing metrics certificate watcher using provided certificates",
			"metrics-cert-path", metricsCertPath, "metrics-cert-name", metricsCertName, "metrics-cert-key", metricsCertKey)

		metricsServerOptions.CertDir = metricsCertPath
		metricsServerOptions.CertName = metricsCertName
		metricsServerOptions.KeyName = metricsCertKey
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsServerOptions,
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "4c1d2f7e.riusage.nextdoor.com",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	c, err := newComponents(ctx, cfg, ctrlmetrics.Registry)
	if err != nil {
		setupLog.Error(err, "unable to initialize")
		os.Exit(1)
	}
	defer c.metrics.Stop()

	nodeReconciler := controller.NewNodeReconciler(mgr.GetClient(), c.inventory, controller.DefaultNodeChurnQuiet)
	defer nodeReconciler.Stop()
	if err := nodeReconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Node")
		os.Exit(1)
	}

	if err := c.reconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Usage")
		os.Exit(1)
	}
	setupLog.Info("registered usage reconciler",
		"interval", cfg.GetReconciliationInterval().String(),
		"regions", cfg.GetRegions())

	if err := mgr.Add(manager.RunnableFunc(c.api.Start)); err != nil {
		setupLog.Error(err, "unable to add report API server")
		os.Exit(1)
	}

	// +kubebuilder:scaffold:builder

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}

	c.monitor.Start(ctx)

	// Readiness fails only when no configured account is reachable.
	if err := mgr.AddReadyzCheck("readyz", c.monitor.Check); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
