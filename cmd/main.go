package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"

	"policy-rag/internal/config"
	"policy-rag/internal/db"
	"policy-rag/internal/fetcher"
	"policy-rag/internal/helper"
	"policy-rag/internal/models"
	"policy-rag/internal/rag"
	"policy-rag/internal/server"
)

const configFilePath = "./configs/config.yaml"

// questionList collects repeated -q flags
type questionList []string

func (q *questionList) String() string { return strings.Join(*q, "; ") }

func (q *questionList) Set(v string) error {
	*q = append(*q, v)
	return nil
}

func main() {
	var questions questionList
	configPath := flag.String("config", configFilePath, "Path to the yaml or toml config file")
	doc := flag.String("doc", "", "Document URL, local path or inline text")
	flag.Var(&questions, "q", "Question to answer (repeatable)")
	asJSON := flag.Bool("json", false, "Print the full batch result as JSON")
	serve := flag.Bool("serve", false, "Start the HTTP API")
	analyze := flag.Bool("analyze", false, "Analyze the document structure")
	summarize := flag.Int("summarize", 0, "Summarize the document in at most N characters")
	history := flag.Int("history", 0, "Show the last N logged answers for the document")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Debug().Str("path", *configPath).Interface("rag", cfg.RAG).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *history > 0 {
		showHistory(ctx, cfg.Database, *doc, *history)
		return
	}

	// the HTTP API only takes URLs and inline text
	var fetchOpts []fetcher.Option
	if !*serve {
		fetchOpts = append(fetchOpts, fetcher.WithLocalFiles())
	}
	pipeline, err := rag.NewFromConfig(ctx, cfg, fetchOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing pipeline")
	}
	defer pipeline.Close()

	switch {
	case *serve:
		if err := server.New(pipeline, cfg.Server.Addr).ListenAndServe(ctx); err != nil {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	case *doc == "":
		flag.Usage()
		os.Exit(2)
	case *analyze:
		analysis, err := pipeline.Analyze(ctx, *doc)
		if err != nil {
			log.Fatal().Err(err).Msg("Error analyzing document")
		}
		helper.PrettyPrint(os.Stdout, analysis)
	case *summarize > 0:
		summary, err := pipeline.Summarize(ctx, *doc, *summarize)
		if err != nil {
			log.Fatal().Err(err).Msg("Error summarizing document")
		}
		fmt.Println(summary)
	default:
		if len(questions) == 0 {
			log.Fatal().Msg("Please provide at least one question using the -q flag")
		}
		batch, err := pipeline.Run(ctx, *doc, questions)
		if err != nil {
			log.Fatal().Err(err).Msg("Error answering questions")
		}
		if *asJSON {
			helper.PrettyPrint(os.Stdout, batch)
			return
		}
		printBatch(batch)
	}
}

func showHistory(ctx context.Context, cfg config.DatabaseConfig, doc string, limit int) {
	if cfg.DSN == "" {
		log.Fatal().Msg("Answer history needs database.dsn or DATABASE_URL")
	}
	store, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening answer log")
	}
	defer store.Close()

	rows, err := store.Recent(ctx, doc, limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading answer log")
	}
	helper.PrettyPrint(os.Stdout, rows)
}

func printBatch(batch *models.BatchResult) {
	questionColor := color.New(color.FgCyan, color.Bold)
	errorColor := color.New(color.FgRed)
	faint := color.New(color.Faint)

	for _, res := range batch.Results {
		questionColor.Printf("Q%d: %s\n", res.Index+1, res.Question)
		if res.Error != nil {
			errorColor.Printf("   error (%s): %s\n\n", res.Error.Kind, res.Error.Message)
			continue
		}
		ans := res.Answer
		fmt.Printf("   %s\n", ans.Text)
		confidenceColor(ans.Confidence).Printf("   confidence %.2f", ans.Confidence)
		faint.Printf("  sources %v  %.2fs\n\n", ans.SourceChunkIDs, ans.ProcessingTime)
	}
	faint.Printf("batch %s: %d questions in %.2fs, %d tokens\n", batch.ID, len(batch.Results), batch.ProcessingTime, batch.TotalTokens)
}

func confidenceColor(c float64) *color.Color {
	switch {
	case c >= 0.7:
		return color.New(color.FgGreen)
	case c >= 0.4:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
