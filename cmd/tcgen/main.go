package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/backend"
	"github.com/esnunes/tcgen/internal/config"
	"github.com/esnunes/tcgen/internal/db"
	"github.com/esnunes/tcgen/internal/identity"
	"github.com/esnunes/tcgen/internal/logging"
	"github.com/esnunes/tcgen/internal/notify"
	"github.com/esnunes/tcgen/internal/paths"
	"github.com/esnunes/tcgen/internal/poller"
	"github.com/esnunes/tcgen/internal/registry"
	"github.com/esnunes/tcgen/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file")
	port := flag.Int("port", 0, "port to listen on (0 picks a free port)")
	noBrowser := flag.Bool("no-browser", false, "do not open the browser on start")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaultConfig, err := paths.DefaultConfigFile()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromFiles(defaultConfig, *configPath)
	if err != nil {
		return err
	}
	config.ApplyFlagOverrides(cfg, *port, *noBrowser)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.Setup(cfg.Logging)

	dbPath, err := db.DBPath(cfg.Storage.Path)
	if err != nil {
		return err
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Debug().Str("path", dbPath).Msg("Database opened")

	queries := db.NewQueries(database)
	reg := registry.Load(queries)

	userID, err := identity.GetOrCreate(queries)
	if err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Int("connections", len(reg.Configs())).Msg("Local state loaded")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	client := backend.New(cfg.Backend.DocumentsURL, cfg.Backend.GenerationURL, cfg.BackendTimeout())
	board := notify.NewBoard(queries)
	jobs := poller.New(client, board, poller.Options{
		Interval:      cfg.PollInterval(),
		CompletionTTL: cfg.CompletionTTL(),
		LaunchTTL:     cfg.LaunchTTL(),
		Location:      loc,
	})

	srv, err := server.New(server.Deps{
		Queries:  queries,
		Registry: reg,
		Backend:  client,
		Board:    board,
		Poller:   jobs,
	}, server.Options{
		ListenAddr:         cfg.ListenAddr(),
		VisualizerURL:      cfg.Backend.VisualizerURL,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if err := srv.Listen(); err != nil {
		return err
	}

	if cfg.Server.OpenBrowser {
		openBrowser("http://" + srv.Addr())
	}

	return srv.Serve(ctx)
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Msg("Could not open the browser")
	}
}
