// Package facts provides long-term memory storage for learned
// information about the user, with hybrid semantic/keyword retrieval.
// Embeddings are stored as BLOBs next to the facts; similarity is
// plain cosine over the stored vectors. Simple, portable, fast enough
// for tens of thousands of facts.
package facts

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
)

// Source values record how a fact was learned.
const (
	// SourceAuto marks facts distilled by the background extractor.
	SourceAuto = "auto"
	// SourceExplicit marks facts the user asked to remember.
	SourceExplicit = "explicit"
)

// Fact represents a piece of long-term memory.
type Fact struct {
	ID         int64     `json:"id"`
	Category   string    `json:"category"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Similarity is populated by SemanticSearch (rounded to 4 decimals).
	Similarity float64 `json:"similarity,omitempty"`
}

// Embedder turns text into a fixed-length vector. Implemented by
// embeddings.Client; injected so the store never knows the transport.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Store manages fact persistence.
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
}

// NewStore creates a fact store using an existing database connection.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SetEmbedder configures the embedding capability. A nil embedder
// disables semantic search; keyword search still works.
func (s *Store) SetEmbedder(e Embedder) {
	s.embedder = e
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			source TEXT NOT NULL DEFAULT 'auto',
			embedding BLOB,
			embedding_dim INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(category, key)
		);

		CREATE INDEX IF NOT EXISTS idx_facts_category ON facts(category);
		CREATE INDEX IF NOT EXISTS idx_facts_key ON facts(key);
		CREATE INDEX IF NOT EXISTS idx_facts_updated ON facts(updated_at DESC);
	`)
	return err
}

// Set stores a fact, updating in place when a fact with the same
// (category, key) already exists. Identity is the composite key, never
// free-text similarity. Embedding generation is best-effort: a failed
// or disabled embedding capability is logged and the fact is stored
// without a vector.
//
// Returns the fact's row id.
func (s *Store) Set(ctx context.Context, category, key, value string, confidence float64, source string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var blob []byte
	var dim int
	if s.embedder != nil {
		vec, err := s.embedder.Generate(ctx, key+": "+value)
		if err != nil {
			s.logger.Warn("embedding failed, storing fact without vector",
				"category", category, "key", key, "error", err)
		} else if len(vec) > 0 {
			blob = encodeEmbedding(vec)
			dim = len(vec)
		}
	}

	var existingID int64
	err := s.db.QueryRow(
		`SELECT id FROM facts WHERE category = ? AND key = ?`, category, key,
	).Scan(&existingID)

	if err == sql.ErrNoRows {
		res, err := s.db.Exec(
			`INSERT INTO facts (category, key, value, confidence, source, embedding, embedding_dim, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			category, key, value, confidence, source, blob, dim, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		return id, nil
	} else if err != nil {
		return 0, fmt.Errorf("check existing: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE facts SET value = ?, confidence = ?, embedding = ?, embedding_dim = ?, updated_at = ?
		 WHERE id = ?`,
		value, confidence, blob, dim, now, existingID,
	)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	return existingID, nil
}

// SemanticSearch finds facts ranked by cosine similarity to the query.
// It degrades to KeywordSearch whenever the semantic path cannot serve:
// no embedder configured, query embedding fails, the query embeds to a
// zero vector, or no facts carry embeddings. Availability over
// completeness: this call always returns the best results it can.
func (s *Store) SemanticSearch(ctx context.Context, query string, limit int) ([]Fact, error) {
	if s.embedder == nil {
		return s.KeywordSearch(query, limit)
	}

	queryVec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, falling back to keyword search", "error", err)
		return s.KeywordSearch(query, limit)
	}
	if norm(queryVec) == 0 {
		return s.KeywordSearch(query, limit)
	}

	rows, err := s.db.Query(
		`SELECT id, category, key, value, confidence, source, created_at, updated_at, embedding, embedding_dim
		 FROM facts WHERE embedding IS NOT NULL ORDER BY id`,
	)
	if err != nil {
		s.logger.Warn("semantic query failed, falling back to keyword search", "error", err)
		return s.KeywordSearch(query, limit)
	}
	defer rows.Close()

	type scored struct {
		fact Fact
		sim  float32
	}
	var candidates []scored

	for rows.Next() {
		var f Fact
		var created, updated string
		var blob []byte
		var dim int
		if err := rows.Scan(&f.ID, &f.Category, &f.Key, &f.Value, &f.Confidence, &f.Source,
			&created, &updated, &blob, &dim); err != nil {
			continue
		}
		vec := decodeEmbedding(blob, dim)
		if norm(vec) == 0 {
			continue
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		candidates = append(candidates, scored{fact: f, sim: cosineSimilarity(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("semantic scan failed, falling back to keyword search", "error", err)
		return s.KeywordSearch(query, limit)
	}
	if len(candidates) == 0 {
		return s.KeywordSearch(query, limit)
	}

	// Stable sort keeps storage order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].sim > candidates[j].sim
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}
	results := make([]Fact, 0, limit)
	for _, c := range candidates[:limit] {
		c.fact.Similarity = math.Round(float64(c.sim)*10000) / 10000
		results = append(results, c.fact)
	}
	return results, nil
}

// KeywordSearch finds facts containing the query in key or value
// (case-insensitive), most recently updated first.
func (s *Store) KeywordSearch(query string, limit int) ([]Fact, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT id, category, key, value, confidence, source, created_at, updated_at
		 FROM facts WHERE key LIKE ? OR value LIKE ?
		 ORDER BY updated_at DESC LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

// All lists facts, optionally filtered by category, most recently
// updated first.
func (s *Store) All(category string, limit int) ([]Fact, error) {
	var rows *sql.Rows
	var err error

	if category != "" {
		rows, err = s.db.Query(
			`SELECT id, category, key, value, confidence, source, created_at, updated_at
			 FROM facts WHERE category = ? ORDER BY updated_at DESC LIMIT ?`,
			category, limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT id, category, key, value, confidence, source, created_at, updated_at
			 FROM facts ORDER BY updated_at DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

// Delete removes the first fact whose key contains the given substring.
// Returns whether a deletion occurred. The fuzzy match lets "forget the
// wifi thing" hit "wifi password".
func (s *Store) Delete(key string) (bool, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM facts WHERE key LIKE ? ORDER BY id LIMIT 1`, "%"+key+"%",
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("lookup: %w", err)
	}

	if _, err := s.db.Exec(`DELETE FROM facts WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	return true, nil
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var facts []Fact
	for rows.Next() {
		var f Fact
		var created, updated string
		if err := rows.Scan(&f.ID, &f.Category, &f.Key, &f.Value, &f.Confidence, &f.Source,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
// The dimension is persisted separately in embedding_dim so decoding
// never infers the count from blob length alone.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding unpacks a blob using the stored dimension. A blob
// whose length disagrees with dim is treated as absent.
func decodeEmbedding(data []byte, dim int) []float32 {
	if len(data) == 0 || dim <= 0 || len(data) != dim*4 {
		return nil
	}
	result := make([]float32, dim)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return result
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

func norm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return float32(math.Sqrt(float64(sum)))
}
