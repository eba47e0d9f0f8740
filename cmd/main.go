package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"scriptoria/internal/chunker"
	"scriptoria/internal/config"
	"scriptoria/internal/db"
	"scriptoria/internal/embedding"
	"scriptoria/internal/helper"
	"scriptoria/internal/indexer"
	"scriptoria/internal/llmservice"
	"scriptoria/internal/models"
	"scriptoria/internal/parser"
	"scriptoria/internal/rag"
	"scriptoria/internal/rerank"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to the document file")
	query := flag.String("query", "", "Question to be answered")
	chat := flag.Bool("chat", false, "Start an interactive question session")
	dryRun := flag.Bool("dry-run", false, "Parse and chunk the document without embedding it")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)
	log.Debug().Interface("rag", cfg.RAG).Str("work_dir", cfg.WorkDir).Msg("Loaded config")

	if *filePath == "" && *query == "" && !*chat {
		log.Fatal().Msg("Please provide a document with -file, a question with -query, or -chat")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *dryRun {
		if *filePath == "" {
			log.Fatal().Msg("-dry-run needs a document given with -file")
		}
		if err := previewChunks(*filePath, cfg); err != nil {
			log.Fatal().Err(err).Msg("Error chunking document")
		}
		return
	}

	engine, closeEngine, err := buildEngine(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing engine")
	}
	defer closeEngine()

	if *filePath != "" {
		if err := processDocument(ctx, engine, *filePath); err != nil {
			log.Error().Err(err).Msg("Error processing document")
			return
		}
	}

	if *query != "" {
		if err := askOnce(ctx, engine, *query); err != nil {
			log.Error().Err(err).Msg("Error answering question")
			return
		}
	}

	if *chat {
		runChat(ctx, engine, os.Stdin)
	}
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
	}
	zerolog.DefaultContextLogger = &log.Logger
}

func newChunker(cfg *config.Config) (*chunker.Chunker, error) {
	tokenizer, err := chunker.NewTiktoken(cfg.RAG.TokenizerEncoding)
	if err != nil {
		return nil, err
	}
	segmenter, err := chunker.NewPunktSegmenter()
	if err != nil {
		return nil, err
	}
	return chunker.New(tokenizer, segmenter, cfg.RAG.MaxTokens, cfg.RAG.OverlapRatio), nil
}

func buildEngine(ctx context.Context, cfg *config.Config) (*rag.Engine, func(), error) {
	closer := func() {}
	if err := helper.CreateFolder(cfg.WorkDir); err != nil {
		return nil, closer, err
	}

	ch, err := newChunker(cfg)
	if err != nil {
		return nil, closer, err
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, closer, err
	}

	llm, err := llmservice.NewModel(ctx, &cfg.InferenceLLM)
	if err != nil {
		return nil, closer, err
	}

	var scorer rerank.Scorer
	if cfg.Rerank.BaseURL != "" {
		client, err := rerank.NewClient(cfg.Rerank)
		if err != nil {
			return nil, closer, err
		}
		scorer = client
	} else {
		log.Warn().Msg("No reranker configured, contexts keep vector search order")
	}

	var backend indexer.Backend
	switch cfg.Index.Backend {
	case "pgvector":
		store, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, closer, err
		}
		closer = func() { store.Close() }
		backend = indexer.NewPgvectorBackend(store)
	default:
		backend = indexer.NewChromemBackend(cfg.WorkDir, cfg.Index.Compress, cfg.Index.EncryptionKey)
	}

	manager := indexer.NewManager(cfg.WorkDir, ch, embedder, backend, cfg.RAG.EmbedBatchSize)
	engine := rag.NewEngine(manager, embedder, scorer, llm, cfg.RAG)

	restored, err := engine.Restore(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Persisted index could not be restored")
	} else if restored {
		log.Info().Msg("Previously processed document is ready")
	}
	return engine, closer, nil
}

func processDocument(ctx context.Context, engine *rag.Engine, path string) error {
	log.Info().Str("file", path).Msg("Processing document")
	err := engine.EnsureIndex(ctx, path, func(progress int, message string) {
		fmt.Printf("[%3d%%] %s\n", progress, message)
	})
	if err != nil {
		fmt.Printf("[fail] %v\n", err)
		return err
	}
	return nil
}

func askOnce(ctx context.Context, engine *rag.Engine, query string) error {
	resp, err := ask(ctx, engine, query, nil)
	if err != nil {
		return err
	}
	printResponse(resp)
	return nil
}

func ask(ctx context.Context, engine *rag.Engine, query string, history []models.ConversationTurn) (*models.PromptResponse, error) {
	resp := &models.PromptResponse{Query: query}
	answer, err := engine.AnswerStream(ctx, query, history, func(s rag.Status) {
		switch s.Status {
		case rag.StatusProcessingChunks:
			resp.Source = s.Message
		case rag.StatusComplete, rag.StatusError:
		default:
			log.Info().Str("status", s.Status).Msg(s.Message)
		}
	})
	if err != nil {
		return nil, err
	}
	resp.Content = answer
	return resp, nil
}

func printResponse(resp *models.PromptResponse) {
	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", resp.Query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", resp.Source)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", resp.Content)
}

func runChat(ctx context.Context, engine *rag.Engine, in io.Reader) {
	var history []models.ConversationTurn
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Println("Ask a question about the document (\"exit\" to quit).")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			continue
		case "exit", "quit":
			return
		}

		resp, err := ask(ctx, engine, question, history)
		if err != nil {
			log.Error().Err(err).Msg("Error answering question")
			if ctx.Err() != nil {
				return
			}
			continue
		}
		printResponse(resp)
		history = append(history,
			models.ConversationTurn{Role: models.RoleUser, Content: question},
			models.ConversationTurn{Role: models.RoleAssistant, Content: resp.Content},
		)
	}
}

// previewChunks parses and chunks the document and prints the result.
func previewChunks(path string, cfg *config.Config) error {
	doc, err := parser.Parse(path)
	if err != nil {
		return err
	}
	ch, err := newChunker(cfg)
	if err != nil {
		return err
	}
	chunks, err := ch.Chunk(doc)
	if err != nil {
		return err
	}
	log.Info().Int("pages", doc.Pages).Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
	return nil
}
