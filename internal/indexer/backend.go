package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"scriptoria/internal/chromemdb"
	"scriptoria/internal/db"
	"scriptoria/internal/models"
)

// Backend builds, persists and reloads the vector index of a generation.
type Backend interface {
	Build(ctx context.Context, vectors [][]float32) (models.VectorIndex, error)
	Save(idx models.VectorIndex) error
	Load(ctx context.Context) (models.VectorIndex, error)
	// Invalidate removes the persisted index so a half-written build is never reused.
	Invalidate() error
}

// ChromemBackend keeps the index as a chromem-go export file in the work dir.
type ChromemBackend struct {
	path          string
	compress      bool
	encryptionKey string
}

func NewChromemBackend(workDir string, compress bool, encryptionKey string) *ChromemBackend {
	name := "index.chromem"
	if compress {
		name += ".gz"
	}
	return &ChromemBackend{
		path:          filepath.Join(workDir, name),
		compress:      compress,
		encryptionKey: encryptionKey,
	}
}

func (b *ChromemBackend) Build(ctx context.Context, vectors [][]float32) (models.VectorIndex, error) {
	return chromemdb.Build(ctx, vectors)
}

func (b *ChromemBackend) Save(idx models.VectorIndex) error {
	ci, ok := idx.(*chromemdb.Index)
	if !ok {
		return fmt.Errorf("chromem backend cannot save %T", idx)
	}
	return ci.Export(b.path, b.compress, b.encryptionKey)
}

func (b *ChromemBackend) Load(ctx context.Context) (models.VectorIndex, error) {
	return chromemdb.Import(b.path, b.encryptionKey)
}

func (b *ChromemBackend) Invalidate() error {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PgvectorBackend stores vectors in Postgres. The table is the persisted form,
// so Save has nothing left to do.
type PgvectorBackend struct {
	store *db.Store
}

func NewPgvectorBackend(store *db.Store) *PgvectorBackend {
	return &PgvectorBackend{store: store}
}

func (b *PgvectorBackend) Build(ctx context.Context, vectors [][]float32) (models.VectorIndex, error) {
	if err := b.store.Replace(ctx, vectors); err != nil {
		return nil, err
	}
	return b.store, nil
}

func (b *PgvectorBackend) Save(models.VectorIndex) error { return nil }

func (b *PgvectorBackend) Load(ctx context.Context) (models.VectorIndex, error) {
	if err := b.store.Refresh(ctx); err != nil {
		return nil, err
	}
	return b.store, nil
}

// Invalidate is a no-op: the hash file is removed first, and Replace runs in a transaction.
func (b *PgvectorBackend) Invalidate() error { return nil }
