package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"scriptoria/internal/config"
	"scriptoria/internal/helper"
	"scriptoria/internal/indexer"
	"scriptoria/internal/models"
	"scriptoria/internal/progress"
	"scriptoria/internal/rerank"
)

var (
	ErrNotReady          = errors.New("no document has been processed yet, please upload a document first")
	ErrGenerationTimeout = errors.New("answer generation timed out")
	ErrEmptyQuestion     = errors.New("question cannot be empty")
)

// Status names relayed by AnswerStream.
const (
	StatusProcessingQuestion = "processing_question"
	StatusRefiningQuestion   = "refining_question"
	StatusRetrievingChunks   = "retrieving_chunks"
	StatusProcessingChunks   = "processing_chunks"
	StatusGeneratingAnswer   = "generating_answer"
	StatusComplete           = "complete"
	StatusError              = "error"
)

type Status struct {
	Status  string
	Message string
	Answer  string
}

// Engine wires the index manager and the query pipeline together.
type Engine struct {
	manager   *indexer.Manager
	retriever *Retriever
	refiner   *Refiner
	generator *Generator

	topK             int
	streamTopK       int
	window           int
	progressInterval time.Duration
}

func NewEngine(manager *indexer.Manager, embedder embeddings.Embedder, scorer rerank.Scorer, llm llms.Model, cfg config.RAGConfig) *Engine {
	return &Engine{
		manager:          manager,
		retriever:        NewRetriever(embedder, scorer),
		refiner:          NewRefiner(embedder, llm, cfg.RefineTimeout),
		generator:        NewGenerator(llm, cfg.GenerationTimeout),
		topK:             cfg.TopK,
		streamTopK:       cfg.StreamTopK,
		window:           cfg.WindowSize,
		progressInterval: cfg.ProgressInterval,
	}
}

// Restore makes a previously processed document available without re-upload.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	return e.manager.Restore(ctx)
}

// EnsureIndex builds or reuses the index for the document at path. The build
// runs on its own goroutine; cb sees its progress at the polling interval and
// only when the percentage has gone up.
func (e *Engine) EnsureIndex(ctx context.Context, path string, cb func(progress int, message string)) error {
	work := func(ctx context.Context, cell *progress.Cell) error {
		return e.manager.EnsureIndex(ctx, path, cell.Set)
	}
	report := func(u progress.Update) {
		if cb != nil {
			cb(u.Progress, u.Message)
		}
	}
	return progress.Run(ctx, e.progressInterval, work, report)
}

// Answer runs refine, retrieve and generate for one question.
func (e *Engine) Answer(ctx context.Context, question string, history []models.ConversationTurn) (string, error) {
	return e.answer(ctx, question, history, e.topK, nil)
}

// AnswerStream is Answer with status updates along the way. The final status
// is complete (carrying the answer) or error.
func (e *Engine) AnswerStream(ctx context.Context, question string, history []models.ConversationTurn, status func(Status)) (string, error) {
	if status == nil {
		status = func(Status) {}
	}
	answer, err := e.answer(ctx, question, history, e.streamTopK, status)
	if err != nil {
		status(Status{Status: StatusError, Message: err.Error()})
		return "", err
	}
	status(Status{Status: StatusComplete, Answer: answer})
	return answer, nil
}

func (e *Engine) answer(ctx context.Context, question string, history []models.ConversationTurn, k int, status func(Status)) (string, error) {
	emit := func(name, message string) {
		if status != nil {
			status(Status{Status: name, Message: message})
		}
	}

	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	gen := e.manager.Current()
	if gen == nil {
		return "", ErrNotReady
	}

	requestID, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	logger := log.With().Str("request_id", requestID).Str("hash", gen.Hash).Logger()
	ctx = logger.WithContext(ctx)
	start := time.Now()

	emit(StatusProcessingQuestion, "Processing your question...")
	emit(StatusRefiningQuestion, "Refining question for better retrieval...")
	refined := e.refiner.Refine(ctx, gen, question, history)

	emit(StatusRetrievingChunks, "Searching knowledge base...")
	result, err := e.retriever.Retrieve(ctx, gen, refined, k, e.window)
	if err != nil {
		logger.Error().Err(err).Msg("Retrieval failed")
		return "", fmt.Errorf("failed to answer question: %w", err)
	}

	pages := "N/A"
	if len(result.Pages) > 0 {
		pages = helper.JoinInts(result.Pages)
	}
	emit(StatusProcessingChunks, fmt.Sprintf("Processing %d relevant passages from pages %s...", len(result.Contexts), pages))

	emit(StatusGeneratingAnswer, "Generating your answer...")
	answer := e.generator.Generate(ctx, GenerateRequest{
		Original: question,
		Refined:  refined,
		Contexts: result.Contexts,
		History:  history,
		Pages:    result.Pages,
	})

	logger.Info().Int("contexts", len(result.Contexts)).Ints("pages", result.Pages).Dur("took", time.Since(start)).Msg("Answered question")
	return answer, nil
}
