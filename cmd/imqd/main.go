// Command imqd is a small daemon wiring pkg/imq to a config file, a
// structured logger, Prometheus metrics, and an admin HTTP surface. It
// exists to exercise the library end to end; embedders of pkg/imq are
// never required to run it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mikhus/imq/pkg/imq"
	"github.com/Mikhus/imq/pkg/imqadmin"
	"github.com/Mikhus/imq/pkg/imqconfig"
	"github.com/Mikhus/imq/pkg/imqlog"
	"github.com/Mikhus/imq/pkg/imqmetrics"
)

const (
	exitSuccess     = 0
	exitInvalidArgs = 2
	exitStartupFail = 3
)

type daemonConfig struct {
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	Prefix            string   `json:"prefix"`
	UseGzip           bool     `json:"useGzip"`
	SafeDelivery      bool     `json:"safeDelivery"`
	SafeDeliveryTTL   string   `json:"safeDeliveryTtl"`
	WatcherCheckDelay string   `json:"watcherCheckDelay"`
	AdminAddr         string   `json:"adminAddr"`
	LogLevel          string   `json:"logLevel"`
	Queues            []string `json:"queues"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("imqd", flag.ContinueOnError)
	configRoot := fs.String("config", "", "directory holding imqd.yaml (layered config root)")
	env := fs.String("env", "", "optional environment layer name")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}

	cfg := daemonConfig{
		Host: imq.DefaultHost, Port: imq.DefaultPort, Prefix: imq.DefaultPrefix,
		AdminAddr: ":8090", LogLevel: "info", Queues: []string{"default"},
	}
	if *configRoot != "" {
		bundle, err := imqconfig.Load(imqconfig.Options{Root: *configRoot, Env: *env})
		if err != nil {
			fmt.Fprintln(os.Stderr, "imqd: load config:", err)
			return exitStartupFail
		}
		if err := bundle.As(&cfg); err != nil {
			fmt.Fprintln(os.Stderr, "imqd: decode config:", err)
			return exitStartupFail
		}
	}

	logger := imqlog.New(imqlog.Options{Service: "imqd", Level: imqlog.Level(cfg.LogLevel), Console: true})

	promReg := prometheus.NewRegistry()
	metrics := imqmetrics.New(promReg)
	health := imqadmin.NewRegistry()

	opts := imq.Options{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Prefix:       cfg.Prefix,
		UseGzip:      cfg.UseGzip,
		SafeDelivery: cfg.SafeDelivery,
		Logger:       logger,
	}
	if cfg.SafeDeliveryTTL != "" {
		if d, err := time.ParseDuration(cfg.SafeDeliveryTTL); err == nil {
			opts.SafeDeliveryTTL = d
		}
	}
	if cfg.WatcherCheckDelay != "" {
		if d, err := time.ParseDuration(cfg.WatcherCheckDelay); err == nil {
			opts.WatcherCheckDelay = d
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queues := make([]*imq.Queue, 0, len(cfg.Queues))
	for _, name := range cfg.Queues {
		q, err := imq.New(name, opts)
		if err != nil {
			logger.Error("construct queue failed", map[string]any{"queue": name, "error": err.Error()})
			return exitStartupFail
		}
		q.OnError(func(err *imq.Error) {
			metrics.Errors.WithLabelValues(name, string(err.Source)).Inc()
			logger.Warn("queue error", map[string]any{"queue": name, "source": string(err.Source), "error": err.Error()})
			health.Report(name, imqadmin.StatusDegraded, false, err)
		})
		q.OnMessage(func(message []byte, id, from string) {
			metrics.MessagesReceived.WithLabelValues(name).Inc()
		})
		if err := q.Start(ctx); err != nil {
			logger.Error("start queue failed", map[string]any{"queue": name, "error": err.Error()})
			return exitStartupFail
		}
		health.Report(name, imqadmin.StatusOK, false, nil)
		queues = append(queues, q)
	}

	var adminServer *http.Server
	if cfg.AdminAddr != "" {
		srv := imqadmin.NewServer(health, promReg)
		adminServer = &http.Server{Addr: cfg.AdminAddr, Handler: srv}
		go func() {
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin server failed", map[string]any{"error": err.Error()})
			}
		}()
		logger.Info("admin server listening", map[string]any{"addr": cfg.AdminAddr})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if adminServer != nil {
		_ = adminServer.Shutdown(shutdownCtx)
	}
	for _, q := range queues {
		_ = q.Stop()
	}
	return exitSuccess
}
