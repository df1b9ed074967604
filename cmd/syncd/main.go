// Package main starts the chat sync server and handles termination.
//
// The process serves the session API, the websocket change-event feed, and
// the stale-session reaper for peer support conversations.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	syncdcmd "github.com/peerline/peerline/internal/cmd/syncd"
)

func main() {
	cfg, err := syncdcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SYNCD] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := syncdcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
