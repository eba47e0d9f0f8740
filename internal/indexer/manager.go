package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"scriptoria/internal/embedding"
	"scriptoria/internal/helper"
	"scriptoria/internal/models"
	"scriptoria/internal/parser"
)

// ErrIndexBuild is returned when a document could not be turned into a usable index.
var ErrIndexBuild = errors.New("index build failed")

// ProgressFunc receives build progress in percent with a human readable message.
type ProgressFunc func(progress int, message string)

// Chunker splits a parsed document into chunks.
type Chunker interface {
	Chunk(doc *models.Document) ([]models.Chunk, error)
}

// Generation is one consistent snapshot of chunks and their index. It is never
// modified after it is published.
type Generation struct {
	Hash   string
	Chunks []models.Chunk
	Index  models.VectorIndex
}

// Manager owns the document index: it decides whether a rebuild is needed,
// runs it and publishes the result.
type Manager struct {
	workDir   string
	chunker   Chunker
	embedder  embeddings.Embedder
	backend   Backend
	batchSize int

	mu      sync.Mutex
	current atomic.Pointer[Generation]
}

func NewManager(workDir string, chunker Chunker, embedder embeddings.Embedder, backend Backend, batchSize int) *Manager {
	return &Manager{
		workDir:   workDir,
		chunker:   chunker,
		embedder:  embedder,
		backend:   backend,
		batchSize: batchSize,
	}
}

// Current returns the published generation, or nil before the first build.
func (m *Manager) Current() *Generation {
	return m.current.Load()
}

// Restore publishes the generation persisted in the work dir, if any.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash, err := readHash(m.workDir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	gen, err := m.load(ctx, hash)
	if err != nil {
		return false, err
	}
	m.current.Store(gen)
	log.Info().Str("hash", hash).Int("chunks", len(gen.Chunks)).Msg("Restored persisted index")
	return true, nil
}

// EnsureIndex makes the index reflect the document at path. When the stored
// content hash matches and the persisted artifacts load cleanly, nothing is
// rebuilt. Only one call runs at a time.
func (m *Manager) EnsureIndex(ctx context.Context, path string, report ProgressFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if report == nil {
		report = func(int, string) {}
	}
	start := time.Now()

	report(10, "Validating document...")
	if !parser.Supported(path) {
		return fmt.Errorf("%w: %w: unsupported file type %s", ErrIndexBuild, parser.ErrParse, path)
	}
	if err := helper.CreateFolder(m.workDir); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}
	hash, err := HashFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}

	if stored, err := readHash(m.workDir); err == nil && stored == hash {
		gen, err := m.load(ctx, hash)
		if err == nil {
			m.current.Store(gen)
			log.Info().Str("hash", hash).Int("chunks", len(gen.Chunks)).Msg("Document already processed, reusing index")
			report(100, "Document already processed")
			return nil
		}
		log.Warn().Err(err).Str("hash", hash).Msg("Persisted index is unusable, rebuilding")
	}

	gen, err := m.build(ctx, path, hash, report)
	if err != nil {
		return err
	}
	m.current.Store(gen)

	log.Info().Str("file", path).Str("hash", hash).Int("chunks", len(gen.Chunks)).Dur("took", time.Since(start)).Msg("Document processed")
	report(100, "Document processed successfully!")
	return nil
}

func (m *Manager) build(ctx context.Context, path, hash string, report ProgressFunc) (*Generation, error) {
	report(40, "Extracting text...")
	doc, err := parser.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}
	report(50, fmt.Sprintf("Read %d pages", doc.Pages))

	report(60, "Breaking text into chunks...")
	chunks, err := m.chunker.Chunk(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document produced no chunks", ErrIndexBuild)
	}

	report(70, "Generating embeddings...")
	report(85, "Building search index...")
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.EmbeddingText
	}
	vectors, err := embedding.EmbedBatches(ctx, m.embedder, texts, m.batchSize, func(batch, batches, processed, total int) {
		report(85+processed*10/total, fmt.Sprintf("Processing batch %d/%d...", batch, batches))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}

	idx, err := m.backend.Build(ctx, vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}

	report(95, "Saving index to disk...")
	if err := m.persist(idx, chunks, hash); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}

	return &Generation{Hash: hash, Chunks: chunks, Index: idx}, nil
}

// persist writes the index and chunks, then the hash. Without the hash file
// the artifacts are never trusted, so a crash part way leaves a cache miss.
func (m *Manager) persist(idx models.VectorIndex, chunks []models.Chunk, hash string) error {
	if err := removeHash(m.workDir); err != nil {
		return err
	}
	if err := m.backend.Invalidate(); err != nil {
		return err
	}
	if err := m.backend.Save(idx); err != nil {
		return err
	}
	if err := saveChunks(m.workDir, chunks); err != nil {
		return err
	}
	return writeHash(m.workDir, hash)
}

func (m *Manager) load(ctx context.Context, hash string) (*Generation, error) {
	chunks, err := loadChunks(m.workDir)
	if err != nil {
		return nil, err
	}
	idx, err := m.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	if idx.Count() != len(chunks) {
		return nil, fmt.Errorf("index holds %d vectors but there are %d chunks", idx.Count(), len(chunks))
	}
	return &Generation{Hash: hash, Chunks: chunks, Index: idx}, nil
}
