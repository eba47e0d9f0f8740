package indexer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"scriptoria/internal/chunker"
	"scriptoria/internal/models"
)

const (
	chunksFile = "chunks.json"
	hashFile   = "document.hash"

	chunksVersion = 1
)

// errLegacyChunks marks a chunk collection saved without page provenance.
var errLegacyChunks = errors.New("chunk collection has no page information")

type chunkCollection struct {
	Version int            `json:"version"`
	Chunks  []models.Chunk `json:"chunks"`
}

// HashFile returns the hex xxhash64 of the file contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func readHash(workDir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(workDir, hashFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func writeHash(workDir, hash string) error {
	return writeFileAtomic(filepath.Join(workDir, hashFile), []byte(hash))
}

func removeHash(workDir string) error {
	err := os.Remove(filepath.Join(workDir, hashFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func saveChunks(workDir string, chunks []models.Chunk) error {
	data, err := sonic.Marshal(chunkCollection{Version: chunksVersion, Chunks: chunks})
	if err != nil {
		return fmt.Errorf("failed to encode chunks: %w", err)
	}
	return writeFileAtomic(filepath.Join(workDir, chunksFile), data)
}

// loadChunks reads the chunk collection. Older payloads are handled here:
// a bare array of records is upgraded in place and written back in the
// current schema; a bare array of strings carries no pages and is rejected.
func loadChunks(workDir string) ([]models.Chunk, error) {
	path := filepath.Join(workDir, chunksFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}

	if data[0] == '{' {
		var coll chunkCollection
		if err := sonic.Unmarshal(data, &coll); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if coll.Version != chunksVersion {
			return nil, fmt.Errorf("unsupported chunk schema version %d", coll.Version)
		}
		return coll.Chunks, validateChunks(coll.Chunks)
	}

	var texts []string
	if err := sonic.Unmarshal(data, &texts); err == nil {
		return nil, errLegacyChunks
	}

	var chunks []models.Chunk
	if err := sonic.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	for i := range chunks {
		if chunks[i].EmbeddingText == "" {
			chunks[i].EmbeddingText = chunker.TruncateForEmbedding(chunks[i].Text)
		}
	}
	if err := validateChunks(chunks); err != nil {
		return nil, err
	}
	if err := saveChunks(workDir, chunks); err != nil {
		return nil, err
	}
	log.Info().Int("chunks", len(chunks)).Msg("Migrated chunk collection to the current schema")
	return chunks, nil
}

func validateChunks(chunks []models.Chunk) error {
	for i, c := range chunks {
		if len(c.Pages) == 0 {
			return fmt.Errorf("chunk %d: %w", i, errLegacyChunks)
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
