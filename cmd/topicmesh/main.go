package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	// Application info
	appName    = "topicmesh"
	appVersion = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

// run starts a node from args and blocks until ctx is done
func run(ctx context.Context, args []string, stdout io.Writer) error {
	config, opts, err := loadConfig(args, stdout)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "%s v%s\n", appName, appVersion)
		return nil
	}

	logger, err := newLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting "+appName,
		zap.String("version", appVersion),
		zap.String("node_id", config.NodeID),
		zap.Strings("upstreams", config.Peer.Upstreams))

	n, err := newNode(config, logger, newRegistry())
	if err != nil {
		return err
	}
	if err := n.Run(ctx); err != nil {
		return err
	}

	logger.Info("node stopped", zap.String("node_id", config.NodeID))
	return nil
}

// newRegistry returns a metrics registry with the process collectors
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}
