package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"portalshot/internal/app"
	logx "portalshot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yml", "path to config yaml or json")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fatal(err)
	}
	if err := a.Run(ctx); err != nil {
		fatal(err)
	}
}

// fatal may run before the configured logger exists.
func fatal(err error) {
	logx.NewConsole("error").Error("fatal", logx.Err(err))
	os.Exit(1)
}
