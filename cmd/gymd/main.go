package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	gymdcmd "github.com/ferrogym/ferrogym/internal/cmd/gymd"
	"github.com/ferrogym/ferrogym/internal/platform/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := gymdcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("gymd: parse flags: %v", err)
	}
	log.SetPrefix("[GYMD] ")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var interrupted atomic.Bool
	go func() {
		sig := <-signals
		if sig == os.Interrupt {
			interrupted.Store(true)
		}
		cancel()
	}()

	if err := gymdcmd.Run(ctx, cfg); err != nil {
		log.Printf("failed to serve: %v", err)
		return 1
	}
	if interrupted.Load() {
		return 130
	}
	return 0
}
