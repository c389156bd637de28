// Command dynmethod-lsp is a language server for JavaScript and TypeScript
// code that registers methods at runtime with setMethod and looks them up
// with getMethod. It speaks LSP over stdio and delegates symbol, hover and
// definition queries to typescript-language-server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/alucardeht/dynmethod/internal/config"
	"github.com/alucardeht/dynmethod/internal/engine"
	"github.com/alucardeht/dynmethod/internal/logger"
	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/internal/owner"
	"github.com/alucardeht/dynmethod/internal/server"
	"github.com/alucardeht/dynmethod/internal/watcher"
)

const name = "dynmethod-lsp"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app := &cli.App{
		Name:    name,
		Usage:   "Completion, signature help and go-to-definition for setMethod/getMethod registrations",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (default: " + config.DefaultPath() + ")",
				EnvVars: []string{"DYNMETHOD_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn, error",
				EnvVars: []string{"DYNMETHOD_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "server-command",
				Usage: "Downstream language server executable for every language",
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Do not watch workspace folders for changes on disk",
			},
			&cli.BoolFlag{
				Name:  "stdio",
				Usage: "Communicate over stdin/stdout (the only transport; accepted for editor compatibility)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("server-command") {
		for lang, s := range cfg.LSP {
			s.Command = c.String("server-command")
			cfg.LSP[lang] = s
		}
	}
	if c.Bool("no-watch") {
		cfg.Watcher.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logger())
	log := logger.ForComponent("main")

	manager := lsp.NewManager(cfg.Manager())
	defer func() {
		if err := manager.Close(); err != nil {
			log.Warn("closing downstream servers", "error", err)
		}
	}()

	search := owner.NewCachedSearcher(manager, cfg.Analysis.CacheSize, cfg.Analysis.CacheTTL.Duration)
	eng := engine.New(cfg.Engine(), manager, search)
	defer eng.Stop()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	opts := server.Options{Name: name, Version: version}

	if cfg.Watcher.Enabled {
		w, err := watcher.New(cfg.WatcherConfig(),
			func(path string) bool { return eng.Supports(lsp.PathToURI(path)) },
			func(events []watcher.FileEvent) {
				log.Debug("workspace files changed", "count", len(events))
				eng.WorkspaceChanged()
			})
		if err != nil {
			log.Warn("file watching disabled", "error", err)
		} else {
			w.Start(ctx)
			opts.Watcher = w
			g.Go(func() error {
				<-ctx.Done()
				return w.Stop()
			})
		}
	}

	srv := server.New(eng, manager, opts)
	log.Info("serving on stdio", "version", version, "pid", os.Getpid())

	g.Go(func() error {
		defer cancel()
		return srv.Serve(ctx, stdio{})
	})

	err = g.Wait()
	switch {
	case errors.Is(err, server.ErrExitWithoutShutdown):
		return cli.Exit(err.Error(), 1)
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// stdio joins stdin and stdout into the stream the editor talks over.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func (stdio) Close() error {
	return errors.Join(os.Stdin.Close(), os.Stdout.Close())
}
