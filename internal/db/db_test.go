package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptoria/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SCRIPTORIA_TEST_DSN")
	if dsn == "" {
		t.Skip("SCRIPTORIA_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, config.DatabaseConfig{DSN: dsn, Table: "chunk_vectors_test"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.DropVectors(ctx)
		_ = s.Close()
	})
	return s
}

func TestStore_ReplaceAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{0.6, 0.8, 0},
	}
	require.NoError(t, s.Replace(ctx, vectors))
	assert.Equal(t, 4, s.Count())

	hits, err := s.Search(ctx, []float32{0, 1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Position)
	assert.InDelta(t, 0, hits[0].Distance, 1e-4)
	assert.Equal(t, 3, hits[1].Position)

	// 0 and 2 tie; the lower position wins
	hits, err = s.Search(ctx, []float32{0, 1, 0}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, 0, hits[2].Position)
	assert.Equal(t, 2, hits[3].Position)

	require.NoError(t, s.Replace(ctx, vectors[:2]))
	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, 2, s.Count())
}

func TestConnectDB_DisablesSSLByDefault(t *testing.T) {
	sqldb := ConnectDB("postgres://user@localhost:5432/rag", "")
	defer sqldb.Close()
	assert.NotNil(t, sqldb)
}

func TestStore_EmptySearch(t *testing.T) {
	s := &Store{table: "unused"}
	hits, err := s.Search(context.Background(), []float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
