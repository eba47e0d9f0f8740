package chromemdb

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"scriptoria/internal/models"
)

const collectionName = "chunks"

// Index is an exact nearest-neighbour index backed by a chromem-go collection.
// Document IDs are chunk positions, so a hit maps straight back to its chunk.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// Build creates an in-memory index over vectors; vector i gets position i.
func Build(ctx context.Context, vectors [][]float32) (*Index, error) {
	db := chromem.NewDB()
	c, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %v", err)
	}

	docs := make([]chromem.Document, len(vectors))
	for i, v := range vectors {
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(i),
			Embedding: v,
		}
	}
	if len(docs) > 0 {
		if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("failed to add documents: %v", err)
		}
	}
	return &Index{db: db, collection: c}, nil
}

func (m *Index) Count() int {
	return m.collection.Count()
}

// Search scores the whole collection and orders hits by ascending L2 distance,
// breaking ties by position so repeated searches agree.
func (m *Index) Search(ctx context.Context, query []float32, k int) ([]models.Hit, error) {
	n := m.Count()
	if k <= 0 || n == 0 {
		return nil, nil
	}

	results, err := m.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	hits := make([]models.Hit, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, fmt.Errorf("corrupt document id %q: %v", r.ID, err)
		}
		hits = append(hits, models.Hit{Position: pos, Distance: distance(r.Similarity)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Position < hits[j].Position
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// distance converts cosine similarity of unit vectors to L2 distance.
func distance(similarity float32) float32 {
	d := 2 - 2*float64(similarity)
	if d < 0 {
		d = 0
	}
	return float32(math.Sqrt(d))
}

// export to file
func (m *Index) Export(filePath string, compress bool, encryptionKey string) error {
	log.Debug().Str("file", filePath).Bool("compress", compress).Int("count", m.Count()).Msg("Exporting vector index")
	if err := m.db.ExportToFile(filePath, compress, encryptionKey, collectionName); err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return nil
}

// import from file
func Import(filePath string, encryptionKey string) (*Index, error) {
	db := chromem.NewDB()
	if err := db.ImportFromFile(filePath, encryptionKey, collectionName); err != nil {
		return nil, fmt.Errorf("failed to import database: %v", err)
	}
	c := db.GetCollection(collectionName, nil)
	if c == nil {
		return nil, fmt.Errorf("collection %s missing from %s", collectionName, filePath)
	}
	return &Index{db: db, collection: c}, nil
}
