package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/markdave123-py/doqmate/internal/app"
	"github.com/markdave123-py/doqmate/internal/config"
	"github.com/markdave123-py/doqmate/internal/core/query"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

const usage = `Usage:
  indexer index  -chatbot ID -pdf FILE [-doc ID] [-tags a,b] [-debug]
  indexer query  -chatbot ID -q QUESTION [-group G] [-top-k N] [-debug]
  indexer delete -chatbot ID -doc ID

Configuration comes from the environment (.env) like cmd/api. With
VECTOR_STORE=memory nothing outlives the process.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "index":
		err = runIndex(ctx, os.Args[2:])
	case "query":
		err = runQuery(ctx, os.Args[2:])
	case "delete":
		err = runDelete(ctx, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func boot(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)
	return app.NewApp(ctx, cfg)
}

func runIndex(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	chatbotID := fs.String("chatbot", "", "chatbot id (required)")
	pdfPath := fs.String("pdf", "", "path to the PDF (required)")
	docID := fs.String("doc", "", "document id (default: random uuid)")
	tags := fs.String("tags", "", "comma separated user group tags")
	debug := fs.Bool("debug", false, "log per-page previews")
	_ = fs.Parse(args)

	if *chatbotID == "" || *pdfPath == "" {
		return fmt.Errorf("-chatbot and -pdf are required")
	}
	if _, err := os.Stat(*pdfPath); err != nil {
		return err
	}
	if *docID == "" {
		*docID = uuid.NewString()
	}

	a, err := boot(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var groups []string
	for _, t := range strings.Split(*tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			groups = append(groups, t)
		}
	}
	sum, err := a.Ingestor.Index(ctx, models.IndexRequest{
		ChatbotID:     *chatbotID,
		DocumentID:    *docID,
		PDFPath:       *pdfPath,
		FileName:      filepath.Base(*pdfPath),
		UserGroupTags: groups,
		Debug:         *debug,
	})
	if err != nil {
		return err
	}
	return printJSON(sum)
}

func runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	chatbotID := fs.String("chatbot", "", "chatbot id (required)")
	question := fs.String("q", "", "question (required)")
	group := fs.String("group", "", "user group filter")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (default from config)")
	debug := fs.Bool("debug", false, "include retrieval details")
	_ = fs.Parse(args)

	if *chatbotID == "" || *question == "" {
		return fmt.Errorf("-chatbot and -q are required")
	}

	a, err := boot(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Queries.Progress(ctx, query.Request{
		ChatbotID: *chatbotID,
		Question:  *question,
		UserGroup: *group,
		TopK:      *topK,
		Debug:     *debug,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	chatbotID := fs.String("chatbot", "", "chatbot id (required)")
	docID := fs.String("doc", "", "document id (required)")
	_ = fs.Parse(args)

	if *chatbotID == "" || *docID == "" {
		return fmt.Errorf("-chatbot and -doc are required")
	}

	a, err := boot(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.Ingestor.DeleteDocument(ctx, *chatbotID, *docID)
	if err != nil {
		return err
	}
	return printJSON(sum)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
