// Package main runs a one-shot smoke check against a sync server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	syncprobecmd "github.com/peerline/peerline/internal/cmd/syncprobe"
)

func main() {
	cfg, err := syncprobecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SYNCPROBE] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := syncprobecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("probe failed: %v", err)
	}
}
