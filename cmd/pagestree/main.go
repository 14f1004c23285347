package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vormadev/pagestree"
	"github.com/vormadev/pagestree/kit/colorlog"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	dir        string
	routerRoot string
	configFile string
	logLevel   string
	noColor    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "pagestree",
		Short: "Discover and watch the routes of a pages directory",
		Long: `pagestree walks pages/ (or src/pages/) of a project and reports the
routes it defines, ranked by specificity.

  [id]         dynamic segment
  [...slug]    catch-all segment
  [[...slug]]  optional catch-all segment
  api/...      API routes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.dir, "dir", "C", ".", "project directory")
	pf.StringVar(&g.routerRoot, "router-root", "/", "router path that pages/ is mounted at")
	pf.StringVar(&g.configFile, "config", "", "config file relative to the project directory (default pages.config.json)")
	pf.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored log output")

	rootCmd.AddCommand(
		printCmd(&g),
		watchCmd(&g),
		serveCmd(&g),
		versionCmd(),
	)
	return rootCmd
}

func (g *globalFlags) logger(label string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", g.logLevel, err)
	}
	opts := colorlog.Options{Level: level}
	if g.noColor {
		no := false
		opts.UseColor = &no
	}
	return colorlog.New(label, opts), nil
}

func (g *globalFlags) project() (*pagestree.Project, error) {
	log, err := g.logger("pagestree")
	if err != nil {
		return nil, err
	}
	return pagestree.New(pagestree.Options{
		ProjectDir: g.dir,
		RouterRoot: g.routerRoot,
		ConfigFile: g.configFile,
		Logger:     log,
	})
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pagestree %s (%s)\n", version, commit)
		},
	}
}
