package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"agentsched/internal/app"
	logx "agentsched/pkg/logx"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	boot := logx.NewConsole("INFO")

	a, err := app.New(*cfgPath)
	if err != nil {
		boot.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	// systemd watchdog keepalive, if enabled in the unit.
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go func() {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}

	exitCode := 0
	select {
	case <-ctx.Done():
	case err, ok := <-a.APIErrors():
		if ok && err != nil {
			fmt.Fprintf(logx.Stderr(), "api server failed: %v\n", err)
			exitCode = 1
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Stop(shutdownCtx)
	os.Exit(exitCode)
}
