package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Scratchy77/scratchy-telegram-bot/internal/app"
	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file (YAML or JSON)")
	flag.Parse()

	boot := logx.NewConsole("info")

	a, err := app.New(*configPath)
	if err != nil {
		boot.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(shutdownCtx)
}
