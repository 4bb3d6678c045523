// Package main starts the vault custody daemon.
//
// This process owns the vault record, its event journal, and the HTTP
// API through which principals deposit, withdraw, and claim.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	vaultdcmd "github.com/louisbranch/heirloom/internal/cmd/vaultd"
)

func main() {
	cfg, err := vaultdcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[VAULTD] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := vaultdcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
