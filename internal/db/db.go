package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"scriptoria/internal/config"
	"scriptoria/internal/models"
)

const insertBatchSize = 500

type ChunkVector struct {
	bun.BaseModel `bun:"table:chunk_vectors,alias:cv"`
	Position      int             `bun:"position,pk"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

type hitRow struct {
	Position int     `bun:"position"`
	Distance float32 `bun:"distance"`
}

// Store keeps the chunk vectors of the current document in a Postgres table
// with the pgvector extension. It satisfies models.VectorIndex.
type Store struct {
	db    *bun.DB
	table string
	count int
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dsn, password string) *sql.DB {
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if password != "" {
		opts = append(opts, pgdriver.WithPassword(password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...))
}

// Open connects to Postgres and makes sure the vector extension and table exist.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}
	db := NewDB(ConnectDB(cfg.DSN, cfg.Password), cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Store{db: db, table: cfg.Table}
	if err := s.InitDB(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create pgvector extension: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS ? (position integer PRIMARY KEY, embedding vector NOT NULL)",
		bun.Ident(s.table))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// Replace swaps the stored vectors for a new set in one transaction.
func (s *Store) Replace(ctx context.Context, vectors [][]float32) error {
	rows := make([]ChunkVector, len(vectors))
	for i, v := range vectors {
		rows[i] = ChunkVector{Position: i, Embedding: pgvector.NewVector(v)}
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM ?", bun.Ident(s.table)); err != nil {
			return err
		}
		for start := 0; start < len(rows); start += insertBatchSize {
			batch := rows[start:min(start+insertBatchSize, len(rows))]
			if _, err := tx.NewInsert().Model(&batch).ModelTableExpr("?", bun.Ident(s.table)).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store vectors: %w", err)
	}
	s.count = len(rows)
	log.Debug().Str("table", s.table).Int("count", s.count).Msg("Stored chunk vectors")
	return nil
}

// Refresh reloads the row count after a restart.
func (s *Store) Refresh(ctx context.Context) error {
	n, err := s.db.NewSelect().TableExpr("?", bun.Ident(s.table)).Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count vectors: %w", err)
	}
	s.count = n
	return nil
}

func (s *Store) Count() int {
	return s.count
}

func (s *Store) Search(ctx context.Context, query []float32, k int) ([]models.Hit, error) {
	if k <= 0 || s.count == 0 {
		return nil, nil
	}
	var rows []hitRow
	err := s.db.NewSelect().
		TableExpr("?", bun.Ident(s.table)).
		Column("position").
		ColumnExpr("embedding <-> ? AS distance", pgvector.NewVector(query)).
		OrderExpr("distance ASC, position ASC").
		Limit(k).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	hits := make([]models.Hit, len(rows))
	for i, r := range rows {
		hits[i] = models.Hit{Position: r.Position, Distance: r.Distance}
	}
	return hits, nil
}

// DropVectors removes the table entirely.
func (s *Store) DropVectors(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(s.table))
	s.count = 0
	return err
}
