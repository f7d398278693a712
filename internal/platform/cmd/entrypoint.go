// Package cmd holds the startup plumbing shared by command entry points:
// environment defaults, flag overrides and the telemetry lifecycle.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/certpublish/internal/platform/config"
	"github.com/louisbranch/certpublish/internal/platform/otel"
	"github.com/louisbranch/certpublish/internal/platform/timeouts"
)

// ServiceCertPublish names the certificate publisher in telemetry resources.
const ServiceCertPublish = "certpublish"

// ParseConfig loads an optional env file and then environment defaults into cfg.
func ParseConfig[T any](cfg *T, envFile string) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry configures tracing, executes run, and flushes spans
// within timeouts.Shutdown once run returns.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}
