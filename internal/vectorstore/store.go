// Package vectorstore implements the Vector Store (C14): one embedded
// SQLite file per named database under embeddings/<name>.db, holding
// embedding vectors and computing cosine similarity in pure Go.
package vectorstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"math"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	core "github.com/go-lcgw/lcgw/internal"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is one named embeddings database.
type Store struct {
	db *sql.DB
}

// New opens the SQLite file at path (typically embeddings/<name>.db)
// and applies pending migrations.
func New(path string) (*Store, error) {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		dsn = "file:" + path + "?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &core.StoreError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(5)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, &core.StoreError{Op: "migrate", Err: err}
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// vectorToBlob packs vec as little-endian float32s, halving on-disk
// size relative to float64 storage for precision the spec doesn't need.
func vectorToBlob(vec []float64) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		bits := math.Float32bits(float32(v))
		buf[i*4+0] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

// blobToVector unpacks a float32 BLOB back into float64s.
func blobToVector(blob []byte) []float64 {
	n := len(blob) / 4
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bits := uint32(blob[i*4]) | uint32(blob[i*4+1])<<8 | uint32(blob[i*4+2])<<16 | uint32(blob[i*4+3])<<24
		out[i] = float64(math.Float32frombits(bits))
	}
	return out
}

// AddVector inserts one (text, vector, model, provider) row and returns
// its id.
func (s *Store) AddVector(ctx context.Context, text string, vec []float64, model, provider string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO vectors (text, vector, model, provider, created_at) VALUES (?, ?, ?, ?, ?)`,
		text, vectorToBlob(vec), model, provider, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, &core.StoreError{Op: "add_vector", Err: err}
	}
	return res.LastInsertId()
}

// Count returns the number of stored vectors.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n)
	if err != nil {
		return 0, &core.StoreError{Op: "count", Err: err}
	}
	return n, nil
}

// Match is one find_similar result.
type Match struct {
	ID         int64
	Text       string
	Similarity float64
}

// FindSimilar computes cosine similarity between query and every stored
// vector in pure Go and returns the top k descending, per spec §4.12 —
// no sqlite vector extension, plain per-row computation.
func (s *Store) FindSimilar(ctx context.Context, query []float64, k int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, vector FROM vectors`)
	if err != nil {
		return nil, &core.StoreError{Op: "find_similar", Err: err}
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			id   int64
			text string
			blob []byte
		)
		if err := rows.Scan(&id, &text, &blob); err != nil {
			return nil, &core.StoreError{Op: "find_similar scan", Err: err}
		}
		matches = append(matches, Match{ID: id, Text: text, Similarity: cosineSimilarity(query, blobToVector(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StoreError{Op: "find_similar", Err: err}
	}

	sortMatchesDescending(matches)
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func sortMatchesDescending(matches []Match) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Similarity > matches[j-1].Similarity; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

// cosineSimilarity returns 0.0 when a and b differ in length, per
// spec §4.12.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ModelInfo is the (model, provider) of the first stored row.
type ModelInfo struct {
	Model    string
	Provider string
}

// GetModelInfo returns the (model, provider) of the first row, or nil
// when the store is empty, so subsequent queries reuse the same
// embedding model.
func (s *Store) GetModelInfo(ctx context.Context) (*ModelInfo, error) {
	var info ModelInfo
	err := s.db.QueryRowContext(ctx, `SELECT model, provider FROM vectors ORDER BY id ASC LIMIT 1`).Scan(&info.Model, &info.Provider)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &core.StoreError{Op: "get_model_info", Err: err}
	}
	return &info, nil
}
