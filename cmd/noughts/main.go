// noughts - two-player tic-tac-toe server and tools
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/ernie/noughts/internal/api"
	"github.com/ernie/noughts/internal/bus"
	"github.com/ernie/noughts/internal/config"
	"github.com/ernie/noughts/internal/game"
	"github.com/ernie/noughts/internal/ranking"
	"github.com/ernie/noughts/internal/storage"
)

var version = "dev"

const defaultConfigPath = "config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "leaderboard":
		cmdLeaderboard(os.Args[2:])
	case "player":
		cmdPlayer(os.Args[2:])
	case "stats":
		cmdStats(os.Args[2:])
	case "version":
		fmt.Printf("noughts %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: noughts <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the game server")
	fmt.Println("  leaderboard [--top N] [--sort S]    Show top players (default: 20, sort: points)")
	fmt.Println("  player <name>                       Show one player's record and rank")
	fmt.Println("  stats                               Show live game counts and totals")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default config.yml)")
	fmt.Println("  --url <url>        Base URL of the noughts server (default: derived from config)")
	fmt.Println()
	fmt.Println("Sort keys: points, wins, winRate, gamesPlayed")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  noughts serve --config /etc/noughts/config.yml")
	fmt.Println("  PORT=8080 noughts serve")
	fmt.Println("  noughts leaderboard --top 10 --sort winRate")
	fmt.Println("  noughts player alice")
}

// loadConfig reads the config file, then .env and environment overrides.
// A missing file is not an error.
func loadConfig(path string) (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(path, true)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}

// cmdServe starts the game server
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	log.Info().Str("version", version).Msg("noughts starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage mirror
	backend, err := storage.Open(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open storage")
	}

	var (
		persister *storage.Persister
		gameSaver game.GameSaver
		archive   api.GameArchive
		records   *ranking.Store
	)
	if backend != nil {
		loaded, err := backend.LoadPlayers(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load player records")
		}
		persister = storage.NewPersister(backend, cfg.Database.QueueSize)
		gameSaver, archive = persister, backend
		records = ranking.NewStore(persister)
		records.Load(loaded)
		log.Info().Str("driver", cfg.Database.Driver).Int("players", len(loaded)).Msg("storage ready")
	} else {
		records = ranking.NewStore(nil)
		log.Warn().Msg("persistence disabled, records will not survive a restart")
	}

	registry := game.NewRegistry(gameSaver)

	// Optional event bus
	var (
		publisher *bus.Publisher
		events    api.Publisher
	)
	if cfg.Bus.NATSURL != "" {
		publisher, err = bus.Connect(cfg.Bus.NATSURL, cfg.Bus.SubjectPrefix)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.Bus.NATSURL).Msg("failed to connect to NATS")
		}
		events = publisher
		log.Info().Str("url", cfg.Bus.NATSURL).Str("prefix", cfg.Bus.SubjectPrefix).Msg("event bus connected")
	}

	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Registry: registry,
		Records:  records,
		Archive:  archive,
		Bus:      events,
		Version:  version,
	})
	router.Start(ctx)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	// Sequential shutdown
	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}

	cancel()

	if publisher != nil {
		publisher.Close()
	}
	if persister != nil {
		if err := persister.Close(); err != nil {
			log.Error().Err(err).Msg("closing storage")
		}
	}
	log.Info().Msg("shutdown complete")
}

// CLI helper variables
var baseURL = "http://localhost:3001"

// loadCLIConfigFromFlags derives the server URL from config unless url is set
func loadCLIConfigFromFlags(configPath, serverURL string) {
	if serverURL != "" {
		baseURL = strings.TrimRight(serverURL, "/")
		return
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		return
	}
	host := cfg.Server.ListenAddr
	if host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	baseURL = fmt.Sprintf("http://%s:%d", host, cfg.Server.HTTPPort)
}

func cliFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	serverURL := fs.String("url", "", "base URL of the noughts server")
	return fs, configPath, serverURL
}

func cmdLeaderboard(args []string) {
	fs, configPath, serverURL := cliFlags("leaderboard")
	limit := fs.Int("top", 20, "number of top players to show")
	sortBy := fs.String("sort", ranking.SortPoints, "ordering: points, wins, winRate, gamesPlayed")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *serverURL)

	var entries []ranking.Entry
	path := fmt.Sprintf("/api/leaderboard?limit=%d&sortBy=%s", *limit, url.QueryEscape(*sortBy))
	if err := getJSON(path, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No players yet")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tPOINTS\tWINS\tLOSSES\tDRAWS\tGAMES\tWIN%")
	fmt.Fprintln(w, "----\t------\t------\t----\t------\t-----\t-----\t----")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			e.Rank, e.PlayerName, e.Points, e.Wins, e.Losses, e.Draws, e.GamesPlayed, e.WinRate)
	}
	w.Flush()
}

func cmdPlayer(args []string) {
	fs, configPath, serverURL := cliFlags("player")
	sortBy := fs.String("sort", ranking.SortPoints, "ordering used for the rank")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: player name required\n")
		os.Exit(1)
	}
	name := strings.Join(fs.Args(), " ")

	loadCLIConfigFromFlags(*configPath, *serverURL)

	var entry ranking.Entry
	path := fmt.Sprintf("/api/player/%s?sortBy=%s", url.PathEscape(name), url.QueryEscape(*sortBy))
	if err := getJSON(path, &entry); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Player:\t%s\n", entry.PlayerName)
	fmt.Fprintf(w, "Rank:\t#%d\n", entry.Rank)
	fmt.Fprintf(w, "Points:\t%d\n", entry.Points)
	fmt.Fprintf(w, "Record:\t%d-%d-%d (W-L-D)\n", entry.Wins, entry.Losses, entry.Draws)
	fmt.Fprintf(w, "Games:\t%d\n", entry.GamesPlayed)
	fmt.Fprintf(w, "Win rate:\t%d%%\n", entry.WinRate)
	fmt.Fprintf(w, "Last played:\t%s\n", entry.LastPlayedAt.Local().Format("2006-01-02 15:04"))
	w.Flush()
}

func cmdStats(args []string) {
	fs, configPath, serverURL := cliFlags("stats")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *serverURL)

	var health struct {
		Status string  `json:"status"`
		Uptime float64 `json:"uptime"`
		Stats  struct {
			TotalGames    int `json:"totalGames"`
			WaitingGames  int `json:"waitingGames"`
			PlayingGames  int `json:"playingGames"`
			FinishedGames int `json:"finishedGames"`
			TotalPlayers  int `json:"totalPlayers"`
		} `json:"stats"`
	}
	if err := getJSON("/health", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var agg ranking.Aggregate
	if err := getJSON("/api/leaderboard/stats", &agg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Server:\t%s (up %s)\n", health.Status, (time.Duration(health.Uptime) * time.Second).String())
	fmt.Fprintf(w, "Live games:\t%d (%d waiting, %d playing, %d finished)\n",
		health.Stats.TotalGames, health.Stats.WaitingGames, health.Stats.PlayingGames, health.Stats.FinishedGames)
	fmt.Fprintf(w, "Connected players:\t%d\n", health.Stats.TotalPlayers)
	fmt.Fprintf(w, "Known players:\t%d\n", agg.TotalPlayers)
	fmt.Fprintf(w, "Games recorded:\t%d\n", agg.TotalGamesPlayed)
	fmt.Fprintf(w, "Average win rate:\t%d%%\n", agg.AverageWinRate)
	w.Flush()
}

func getJSON(path string, target interface{}) error {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
