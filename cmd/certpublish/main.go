// Package main runs one certificate publishing pass.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	certpublishcmd "github.com/louisbranch/certpublish/internal/cmd/certpublish"
	"github.com/louisbranch/certpublish/internal/platform/config"
)

func main() {
	cfg, err := certpublishcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[CERTPUBLISH] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := certpublishcmd.Run(ctx, cfg, os.Stdout); err != nil {
		stop()
		config.Exitf("certpublish: %v", err)
	}
}
