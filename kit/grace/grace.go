// Package grace runs a long-lived command until it finishes or the process is
// asked to stop, then gives it a bounded amount of time to clean up.
package grace

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/vormadev/pagestree/kit/colorlog"
)

const defaultShutdownTimeout = 10 * time.Second

func defaultSignals() []os.Signal {
	if runtime.GOOS == "windows" {
		return []os.Signal{os.Interrupt}
	}
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

type Options struct {
	ShutdownTimeout time.Duration // Default: 10 seconds
	Signals         []os.Signal   // Default: SIGHUP, SIGINT, SIGTERM, SIGQUIT
	Logger          *slog.Logger  // Default: colorlog labelled "grace"

	// Run is the main work. Its context is cancelled when a signal arrives.
	// Returning nil after cancellation is a clean exit. Do not call os.Exit
	// or log.Fatal here; return an error instead.
	Run func(ctx context.Context) error

	// Shutdown runs after Run returns, with a context bounded by
	// ShutdownTimeout. Optional.
	Shutdown func(ctx context.Context) error
}

// Orchestrate calls Run under a context cancelled by the first shutdown
// signal or by parent, then calls Shutdown. It returns the first error from
// Run or Shutdown. A second signal while shutting down is logged and ignored;
// the timeout still bounds the wait.
func Orchestrate(parent context.Context, options Options) error {
	if options.Logger == nil {
		options.Logger = colorlog.New("grace")
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(options.Signals) == 0 {
		options.Signals = defaultSignals()
	}
	if options.Run == nil {
		return errors.New("grace: Run is required")
	}

	ctx, stop := context.WithCancel(parent)
	defer stop()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, options.Signals...)
	defer signal.Stop(sig)

	go func() {
		select {
		case s := <-sig:
			options.Logger.Info("[shutdown] Signal received, initiating graceful shutdown", "signal", s)
			stop()
		case <-ctx.Done():
			return
		}
		select {
		case s := <-sig:
			options.Logger.Warn("[shutdown] Already shutting down", "signal", s)
		case <-time.After(options.ShutdownTimeout):
		}
	}()

	runErr := options.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		options.Logger.Error("[run] Error", "error", runErr)
	} else {
		runErr = nil
	}
	stop()

	if options.Shutdown == nil {
		return runErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), options.ShutdownTimeout)
	defer cancel()
	err := options.Shutdown(shutdownCtx)
	if err != nil {
		options.Logger.Error("[shutdown] Cleanup error", "error", err)
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		options.Logger.Warn("[shutdown] Graceful shutdown timed out")
	}
	return errors.Join(runErr, err)
}
