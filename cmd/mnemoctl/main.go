// Command mnemoctl is a small operator CLI over a single mnemo session,
// grounded on the teacher's cmd/embedctl (flag.FlagSet-per-invocation,
// config.LoadConfig, plain stdlib log) — mnemoctl generalizes that single-
// purpose flag CLI into one binary with ingest/recall/stats/close-episode
// subcommands, the way the teacher itself splits small tools under cmd/
// rather than reaching for a subcommand framework.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pterm/pterm"

	"mnemo/internal/cache"
	"mnemo/internal/config"
	"mnemo/internal/embedclient"
	"mnemo/internal/observability"
	"mnemo/internal/ports"
	"mnemo/internal/recall"
	"mnemo/internal/reflectprovider"
	"mnemo/internal/session"
	"mnemo/internal/storage"
	"mnemo/internal/storagefactory"
	"mnemo/internal/tokencount"
)

func main() {
	log.SetFlags(0)
	observability.InitLogger("", os.Getenv("MNEMO_LOG_LEVEL"))
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(os.Args[2:])
	case "recall":
		runRecall(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "close-episode":
		runCloseEpisode(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		log.Fatalf("unknown subcommand %q", os.Args[1])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mnemoctl <ingest|recall|stats|close-episode> [flags]")
}

func commonFlags(fs *flag.FlagSet) (configPath, sessionID *string) {
	configPath = fs.String("config", "mnemo.yaml", "path to configuration file")
	sessionID = fs.String("session", "", "session id (required)")
	return
}

func buildSession(ctx context.Context, configPath, sessionID string) (*session.Session, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.OTel.Enabled {
		if _, err := observability.InitOTel(ctx, cfg.OTel); err != nil {
			pterm.Warning.Printf("otel init failed, continuing without it: %v\n", err)
		}
	}

	backend, err := storagefactory.NewBackend(ctx, cfg.Storage, cfg.Providers.EmbeddingDims)
	if err != nil {
		return nil, fmt.Errorf("build storage backend: %w", err)
	}

	cached, err := cache.New(backend, cache.DefaultSizes())
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	embedder := embedclient.NewOpenAI(cfg.Providers.EmbedderHost, cfg.Providers.EmbedderAPIKey, cfg.Providers.EmbedderModel, cfg.Providers.EmbeddingDims)

	var reflector ports.Reflector
	switch cfg.Providers.ReflectorBackend {
	case "anthropic":
		reflector = reflectprovider.NewAnthropic(cfg.Providers.ReflectorAPIKey, cfg.Providers.ReflectorModel)
	default:
		reflector = reflectprovider.NewOpenAI(cfg.Providers.ReflectorHost, cfg.Providers.ReflectorAPIKey, cfg.Providers.ReflectorModel)
	}

	counter, err := tokencount.NewTiktokenCounter("cl100k_base")
	var tc interface{ Count(string) int }
	if err != nil {
		pterm.Warning.Printf("tiktoken unavailable (%v); falling back to heuristic counter\n", err)
		tc = tokencount.Heuristic{}
	} else {
		tc = counter
	}

	sess, err := session.New(sessionID, cached, embedder, reflector, tc, *cfg, ports.SystemClock{}, ports.NoopMetrics{})
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}
	if err := sess.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize session: %w", err)
	}
	return sess, nil
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath, sessionID := commonFlags(fs)
	role := fs.String("role", "user", "turn role: user|assistant|tool")
	content := fs.String("content", "", "turn content (use -stdin to read from STDIN)")
	stdin := fs.Bool("stdin", false, "read content from STDIN")
	fs.Parse(args)

	if *sessionID == "" {
		log.Fatal("-session is required")
	}
	text := *content
	if *stdin {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("read stdin: %v", err)
		}
		text = string(b)
	}
	if text == "" {
		log.Fatal("no content provided; use -content or -stdin")
	}

	ctx := context.Background()
	sess, err := buildSession(ctx, *configPath, *sessionID)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer sess.Close(ctx)

	res, err := sess.Ingest(ctx, storage.Role(*role), text, nil, nil)
	if err != nil {
		log.Fatalf("ingest: %v", err)
	}
	pterm.Success.Printf("turn_id=%s episode_id=%s\n", res.TurnID, res.EpisodeID)
}

func runRecall(args []string) {
	fs := flag.NewFlagSet("recall", flag.ExitOnError)
	configPath, sessionID := commonFlags(fs)
	query := fs.String("query", "", "recall query text")
	budget := fs.Int("budget", 0, "token budget (0 = use configured default)")
	includeCurrent := fs.Bool("include-current-episode", true, "include the current open episode's turns")
	minRelevance := fs.Float64("min-relevance", 0.0, "minimum relevance score to include a candidate")
	fs.Parse(args)
	recallOpts := recall.Options{IncludeCurrentEpisode: *includeCurrent, MinRelevance: float32(*minRelevance)}

	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	ctx := context.Background()
	sess, err := buildSession(ctx, *configPath, *sessionID)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer sess.Close(ctx)

	items, err := sess.Recall(ctx, *query, *budget, recallOpts)
	if err != nil {
		log.Fatalf("recall: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(items)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath, sessionID := commonFlags(fs)
	fs.Parse(args)

	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	ctx := context.Background()
	sess, err := buildSession(ctx, *configPath, *sessionID)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer sess.Close(ctx)

	stats, err := sess.GetSessionStats(ctx)
	if err != nil {
		log.Fatalf("stats: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(stats)
}

func runCloseEpisode(args []string) {
	fs := flag.NewFlagSet("close-episode", flag.ExitOnError)
	configPath, sessionID := commonFlags(fs)
	reason := fs.String("reason", "manual", "close reason recorded on the episode")
	fs.Parse(args)

	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	ctx := context.Background()
	sess, err := buildSession(ctx, *configPath, *sessionID)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer sess.Close(ctx)

	id := sess.CloseEpisode(ctx, *reason)
	if id == "" {
		pterm.Info.Println("no open turns; nothing closed")
		return
	}
	pterm.Success.Printf("closed_episode_id=%s\n", id)
}
