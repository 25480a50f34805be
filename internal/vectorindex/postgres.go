package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/tomibot/ragserver/internal/log"
)

const searchTimeout = 10 * time.Second

// DB is the subset of pgxpool.Pool used by the index.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Index on pgvector tables, one table per collection.
type Postgres struct {
	db     DB
	logger log.Logger

	mu   sync.Mutex
	dims map[string]int
}

// NewPostgres creates an Index backed by db. logger may be nil.
func NewPostgres(db DB, logger log.Logger) *Postgres {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{
		db:     db,
		logger: logger,
		dims:   make(map[string]int),
	}
}

func tableIdent(collection string) string {
	return pgx.Identifier{"vec_" + collection}.Sanitize()
}

// Upsert stores points in collection, creating the collection on first
// write with the dimension of the given vectors. Points with existing IDs
// are replaced. All points must share one dimension and it must match the
// collection's registered dimension.
func (p *Postgres) Upsert(ctx context.Context, collection string, points []Point) error {
	if err := validateCollection(collection); err != nil {
		return fmt.Errorf("%w: %q", err, collection)
	}
	if len(points) == 0 {
		return nil
	}

	dim := len(points[0].Vector)
	if dim == 0 {
		return fmt.Errorf("%w: empty vector in point %q", ErrDimensionMismatch, points[0].ID)
	}
	for _, pt := range points {
		if len(pt.Vector) != dim {
			return fmt.Errorf("%w: point %q has dimension %d, batch has %d",
				ErrDimensionMismatch, pt.ID, len(pt.Vector), dim)
		}
	}

	registered, err := p.ensureCollection(ctx, collection, dim)
	if err != nil {
		return err
	}
	if registered != dim {
		return fmt.Errorf("%w: collection %q stores dimension %d, got %d",
			ErrDimensionMismatch, collection, registered, dim)
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload
	`, tableIdent(collection))

	for _, pt := range points {
		payload, err := json.Marshal(pt.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for point %q: %w", pt.ID, err)
		}
		if _, err := p.db.Exec(ctx, upsertSQL, pt.ID, pgvector.NewVector(pt.Vector), payload); err != nil {
			return fmt.Errorf("upserting point %q into %q: %w", pt.ID, collection, err)
		}
	}

	p.logger.Debug("points upserted", "collection", collection, "points", len(points))
	return nil
}

// Search returns up to topK matches ordered by descending cosine
// similarity. An unknown collection yields no matches and no error.
func (p *Postgres) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	if err := validateCollection(collection); err != nil {
		return nil, fmt.Errorf("%w: %q", err, collection)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}

	dim, ok, err := p.lookupDimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: collection %q stores dimension %d, query has %d",
			ErrDimensionMismatch, collection, dim, len(vector))
	}

	searchSQL := fmt.Sprintf(`
		SELECT id, payload, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, tableIdent(collection))

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	rows, err := p.db.Query(queryCtx, searchSQL, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", collection, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m       Match
			payload []byte
		)
		if err := rows.Scan(&m.ID, &payload, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &m.Payload); err != nil {
				return nil, fmt.Errorf("decoding payload of %q: %w", m.ID, err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading matches: %w", err)
	}
	return matches, nil
}

// ensureCollection returns the collection's registered dimension, creating
// the backing table and registry row when the collection is new.
func (p *Postgres) ensureCollection(ctx context.Context, collection string, dim int) (int, error) {
	p.mu.Lock()
	cached, ok := p.dims[collection]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	registered, found, err := p.lookupDimension(ctx, collection)
	if err != nil {
		return 0, err
	}
	if found {
		p.cacheDimension(collection, registered)
		return registered, nil
	}

	createSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, embedding vector(%d) NOT NULL, payload JSONB NOT NULL DEFAULT '{}'::jsonb)",
		tableIdent(collection), dim)
	if _, err := p.db.Exec(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("creating collection %q: %w", collection, err)
	}

	indexSQL := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
		pgx.Identifier{"vec_" + collection + "_idx"}.Sanitize(), tableIdent(collection))
	if _, err := p.db.Exec(ctx, indexSQL); err != nil {
		return 0, fmt.Errorf("indexing collection %q: %w", collection, err)
	}

	if _, err := p.db.Exec(ctx,
		"INSERT INTO rag_collections (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING",
		collection, dim); err != nil {
		return 0, fmt.Errorf("registering collection %q: %w", collection, err)
	}

	// Re-read in case a concurrent writer registered first with another
	// dimension.
	registered, found, err = p.lookupDimension(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("collection %q missing after registration", collection)
	}

	p.cacheDimension(collection, registered)
	p.logger.Info("collection ready", "collection", collection, "dimension", registered)
	return registered, nil
}

func (p *Postgres) lookupDimension(ctx context.Context, collection string) (int, bool, error) {
	var dim int
	err := p.db.QueryRow(ctx, "SELECT dimension FROM rag_collections WHERE name = $1", collection).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up collection %q: %w", collection, err)
	}
	return dim, true, nil
}

func (p *Postgres) cacheDimension(collection string, dim int) {
	p.mu.Lock()
	p.dims[collection] = dim
	p.mu.Unlock()
}
