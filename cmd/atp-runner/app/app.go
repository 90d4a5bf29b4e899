// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	goflag "flag"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/wooveep/atp-runner/internal/console"
	"github.com/wooveep/atp-runner/internal/executor"
	"github.com/wooveep/atp-runner/internal/healthcheck"
	"github.com/wooveep/atp-runner/internal/hostconn"
	"github.com/wooveep/atp-runner/internal/hostpool"
	"github.com/wooveep/atp-runner/internal/inventory"
	"github.com/wooveep/atp-runner/internal/verification"
	"github.com/wooveep/atp-runner/internal/vtransport"
)

// HTTPServerOptions mirrors the teacher's HTTPServerOptions
// (cmd/libvirt-provider/app.HTTPServerOptions): one address plus a
// graceful shutdown timeout.
type HTTPServerOptions struct {
	Addr            string
	GracefulTimeout time.Duration
}

// ServersOptions collects the one HTTP surface this binary exposes.
type ServersOptions struct {
	Console HTTPServerOptions
}

// Options is the flag-struct idiom from the teacher's
// cmd/libvirt-provider/app.Options, rebuilt around the pool,
// verification transport, and scenario executor instead of the CRI
// reconciler/grpc/streaming servers.
type Options struct {
	RunnerConfig string

	Servers ServersOptions

	VTransport vtransport.Config

	Pool     hostpool.Config
	Strategy SelectionStrategyValue

	Transport hostconn.TransportConfig

	Verification verification.Config
	Executor     executor.Config

	InventoryURL  string
	SpicePassword string

	ReportCapacity int
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.RunnerConfig, "runner-config", "", "Path to a YAML/JSON/TOML file listing the hosts the pool manages.")

	fs.StringVar(&o.Servers.Console.Addr, "servers-console-address", "0.0.0.0:8080", "Address to serve the scenario run/report/health/metrics HTTP surface on.")
	fs.DurationVar(&o.Servers.Console.GracefulTimeout, "servers-console-gracefultimeout", 2*time.Second, "Graceful timeout for shutting down the console HTTP server.")

	fs.StringVar(&o.VTransport.WSAddr, "vtransport-ws-address", "0.0.0.0:8765", "Address for the verification WebSocket listener. Empty disables it.")
	fs.StringVar(&o.VTransport.TCPAddr, "vtransport-tcp-address", "0.0.0.0:8766", "Address for the verification TCP listener. Empty disables it.")

	fs.IntVar(&o.Pool.MinConnectionsPerHost, "pool-min-connections-per-host", o.Pool.MinConnectionsPerHost, "Minimum pooled connections kept open per host.")
	fs.IntVar(&o.Pool.MaxConnectionsPerHost, "pool-max-connections-per-host", o.Pool.MaxConnectionsPerHost, "Maximum pooled connections allowed per host.")
	fs.DurationVar(&o.Pool.IdleTimeout, "pool-idle-timeout", o.Pool.IdleTimeout, "How long an idle connection above the per-host minimum is kept before being reaped.")
	fs.DurationVar(&o.Pool.ManagementInterval, "pool-management-interval", o.Pool.ManagementInterval, "How often the pool's idle-reap/scale-up sweep runs.")
	fs.Int64Var(&o.Pool.HighLoadActiveUses, "pool-high-load-active-uses", o.Pool.HighLoadActiveUses, "Active-use count above which a pooled connection counts as high load.")
	fs.Float64Var(&o.Pool.HighLoadRatio, "pool-high-load-ratio", o.Pool.HighLoadRatio, "Fraction of a host's connections that must be high load before the pool scales up.")
	fs.Var(&o.Strategy, "pool-selection-strategy", fmt.Sprintf("Connection selection strategy to use. Available: %v", selectionStrategyOptionsAvailable()))

	fs.DurationVar(&o.Transport.ConnectTimeout, "transport-connect-timeout", o.Transport.ConnectTimeout, "Timeout for dialing a hypervisor host.")
	fs.DurationVar(&o.Transport.HeartbeatInterval, "transport-heartbeat-interval", o.Transport.HeartbeatInterval, "Interval between liveness heartbeats on a pooled connection.")
	fs.BoolVar(&o.Transport.AutoReconnect, "transport-auto-reconnect", o.Transport.AutoReconnect, "Automatically reconnect a connection whose heartbeat detects it is dead.")
	fs.IntVar(&o.Transport.Reconnect.MaxAttempts, "transport-reconnect-max-attempts", o.Transport.Reconnect.MaxAttempts, "Reconnect attempts before giving up. 0 retries forever.")
	fs.DurationVar(&o.Transport.Reconnect.InitialDelay, "transport-reconnect-initial-delay", o.Transport.Reconnect.InitialDelay, "Initial reconnect backoff delay.")
	fs.DurationVar(&o.Transport.Reconnect.MaxDelay, "transport-reconnect-max-delay", o.Transport.Reconnect.MaxDelay, "Maximum reconnect backoff delay.")
	fs.Float64Var(&o.Transport.Reconnect.Multiplier, "transport-reconnect-multiplier", o.Transport.Reconnect.Multiplier, "Reconnect backoff multiplier.")

	fs.DurationVar(&o.Verification.DefaultTimeout, "verification-default-timeout", o.Verification.DefaultTimeout, "Default wait timeout for an expected input event.")
	fs.DurationVar(&o.Verification.CleanupInterval, "verification-cleanup-interval", o.Verification.CleanupInterval, "Interval at which expired expectations are swept.")

	fs.DurationVar(&o.Executor.DefaultStepTimeout, "executor-default-step-timeout", o.Executor.DefaultStepTimeout, "Default per-step timeout when a scenario step omits one.")
	fs.DurationVar(&o.Executor.VerifyDomainStatusPollInterval, "executor-verify-domain-status-poll-interval", o.Executor.VerifyDomainStatusPollInterval, "Poll interval for VerifyDomainStatus/VerifyAllDomainsRunning.")
	fs.DurationVar(&o.Executor.VerifyDomainStatusDefaultTimeout, "executor-verify-domain-status-default-timeout", o.Executor.VerifyDomainStatusDefaultTimeout, "Default timeout when a VerifyDomainStatus step omits one.")
	fs.DurationVar(&o.Executor.CacheTTL, "executor-cache-ttl", o.Executor.CacheTTL, "How long a cached inventory snapshot is trusted before falling back to the live inventory client.")
	fs.DurationVar(&o.Executor.ExecCommandPollInterval, "executor-exec-command-poll-interval", o.Executor.ExecCommandPollInterval, "Poll interval for guest-exec-status while ExecCommand waits for a command to exit.")

	fs.StringVar(&o.InventoryURL, "inventory-url", "", "Base URL of the VDI inventory REST facade.")
	fs.StringVar(&o.SpicePassword, "spice-password", "", "Password used to authenticate new SPICE sessions.")

	fs.IntVar(&o.ReportCapacity, "report-capacity", 256, "Number of recent scenario run reports kept in memory.")
}

func (o *Options) MarkFlagsRequired(cmd *cobra.Command) {
	_ = cmd.MarkFlagRequired("inventory-url")
}

func Command() *cobra.Command {
	var (
		zapOpts = zap.Options{Development: true}
		opts    = Options{
			Pool:         hostpool.DefaultConfig(),
			Transport:    hostconn.DefaultTransportConfig(),
			Verification: verification.DefaultConfig(),
			Executor:     executor.DefaultConfig(),
		}
	)
	opts.Strategy = SelectionStrategyValue(opts.Pool.SelectionStrategy)

	cmd := &cobra.Command{
		Use: "atp-runner",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := zap.New(zap.UseFlagOptions(&zapOpts))
			ctrl.SetLogger(logger)
			cmd.SetContext(ctrl.LoggerInto(cmd.Context(), ctrl.Log))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			opts.Pool.SelectionStrategy = opts.Strategy.Strategy()
			return Run(cmd.Context(), opts)
		},
	}

	goFlags := goflag.NewFlagSet("", 0)
	zapOpts.BindFlags(goFlags)
	cmd.PersistentFlags().AddGoFlagSet(goFlags)

	opts.AddFlags(cmd.Flags())
	opts.MarkFlagsRequired(cmd)

	return cmd
}

func Run(ctx context.Context, opts Options) error {
	log := ctrl.LoggerFrom(ctx)
	setupLog := log.WithName("setup")

	runnerCfg, err := loadRunnerConfig(opts.RunnerConfig)
	if err != nil {
		setupLog.Error(err, "failed to load runner config")
		return err
	}

	pool := hostpool.New(opts.Pool, opts.Transport, hostconn.Dial, log)
	defer pool.Close()

	for _, h := range runnerCfg.Hosts {
		if err := pool.AddHost(ctx, h.toHostInfo()); err != nil {
			setupLog.Error(err, "failed to add host", "host", h.ID)
			return err
		}
	}

	inv := inventory.NewHTTPClient(opts.InventoryURL, nil)
	verifier := verification.NewService(opts.Verification, log)

	vt, err := vtransport.NewServer(opts.VTransport, verifier, log.WithName("vtransport"))
	if err != nil {
		setupLog.Error(err, "failed to initialize verification transport")
		return err
	}

	ex := executor.New(opts.Executor, pool, inv, nil, verifier, executor.NewLiveSessionFactory(opts.SpicePassword, log.WithName("session")), log)
	health := healthcheck.HealthCheck{Pool: pool, Log: log.WithName("health-check")}

	httpHandler := console.NewHandler(ex, health, console.HandlerOptions{
		Log:            log.WithName("console"),
		ReportCapacity: opts.ReportCapacity,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		setupLog.Info("Starting verification transport")
		vt.Start()
		<-ctx.Done()
		setupLog.Info("Shutting down verification transport")
		vt.Stop()
		return nil
	})

	g.Go(func() error {
		if err := runConsoleServer(ctx, setupLog, httpHandler, opts.Servers.Console); err != nil {
			setupLog.Error(err, "failed to start console server")
			return err
		}
		return nil
	})

	return g.Wait()
}

func runConsoleServer(ctx context.Context, setupLog logr.Logger, handler http.Handler, opts HTTPServerOptions) error {
	srv := http.Server{
		Addr:    opts.Addr,
		Handler: handler,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		setupLog.Info("Shutting down console server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.GracefulTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			setupLog.Error(err, "console server wasn't shutdown properly")
		} else {
			setupLog.Info("Console server is shutdown")
		}
	}()

	setupLog.Info("Starting console server", "Address", opts.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error listening / serving console server: %w", err)
	}

	wg.Wait()

	return nil
}
