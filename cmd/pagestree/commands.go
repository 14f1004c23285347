package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/vormadev/pagestree"
	"github.com/vormadev/pagestree/internal/routesync"
	"github.com/vormadev/pagestree/kit/grace"
	"golang.org/x/sync/errgroup"
)

func printCmd(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the routes of the project once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			p, err := g.project()
			if err != nil {
				return err
			}
			snap, err := p.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, snap)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTree, "output format: tree, routes or json")
	return cmd
}

func watchCmd(g *globalFlags) *cobra.Command {
	var (
		format   string
		debounce time.Duration
		ignore   []string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the routes and reprint them whenever they change",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			log, err := g.logger("watch")
			if err != nil {
				return err
			}
			p, err := newWatchProject(g, debounce, ignore)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			return grace.Orchestrate(cmd.Context(), grace.Options{
				Logger: log,
				Run: func(ctx context.Context) error {
					return p.Watch(ctx, func(u pagestree.Update) {
						if u.Err != nil {
							fmt.Fprintf(out, "routes unavailable: %v\n", u.Err)
							return
						}
						if u.Changed != nil {
							fmt.Fprintf(out, "\n# revision %d (%d changed paths)\n", u.Revision, len(u.Changed))
						}
						if err := render(out, format, u.Snapshot); err != nil {
							log.Error("render failed", "error", err)
						}
					})
				},
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTree, "output format: tree, routes or json")
	cmd.Flags().DurationVar(&debounce, "debounce", 100*time.Millisecond, "quiet period before a batch of changes is processed")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "extra glob patterns to ignore, relative to the project directory")
	return cmd
}

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		addr     string
		debounce time.Duration
		ignore   []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the project and stream route snapshots over WebSocket",
		Long: `serve watches the project and serves:

  GET /ws       WebSocket stream of route snapshots
  GET /routes   latest snapshot as JSON
  GET /metrics  Prometheus metrics
  GET /healthz  liveness check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := g.logger("serve")
			if err != nil {
				return err
			}
			p, err := newWatchProject(g, debounce, ignore)
			if err != nil {
				return err
			}
			syncLog, err := g.logger("routesync")
			if err != nil {
				return err
			}

			return grace.Orchestrate(cmd.Context(), grace.Options{
				Logger: log,
				Run: func(ctx context.Context) error {
					hub := routesync.NewHub(ctx, routesync.Options{Logger: syncLog})
					ln, err := net.Listen("tcp", addr)
					if err != nil {
						return err
					}
					srv := &http.Server{Handler: hub.Handler(), ReadHeaderTimeout: 10 * time.Second}
					fmt.Fprintf(cmd.OutOrStdout(), "serving routes at http://%s\n", ln.Addr())

					eg, egCtx := errgroup.WithContext(ctx)
					eg.Go(func() error {
						if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
							return err
						}
						return nil
					})
					eg.Go(func() error {
						// Closing the server also ends the Serve goroutine.
						defer srv.Close()
						return p.Watch(egCtx, func(u pagestree.Update) {
							if u.Err != nil {
								return
							}
							if _, err := hub.Publish(egCtx, u.Revision, u.Snapshot); err != nil && egCtx.Err() == nil {
								log.Error("publish failed", "error", err)
							}
						})
					})
					return eg.Wait()
				},
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3939", "listen address")
	cmd.Flags().DurationVar(&debounce, "debounce", 100*time.Millisecond, "quiet period before a batch of changes is processed")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "extra glob patterns to ignore, relative to the project directory")
	return cmd
}

func newWatchProject(g *globalFlags, debounce time.Duration, ignore []string) (*pagestree.Project, error) {
	log, err := g.logger("pagestree")
	if err != nil {
		return nil, err
	}
	return pagestree.New(pagestree.Options{
		ProjectDir: g.dir,
		RouterRoot: g.routerRoot,
		ConfigFile: g.configFile,
		Logger:     log,
		Ignore:     ignore,
		Debounce:   debounce,
	})
}
