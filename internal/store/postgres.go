package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DatabaseURL  string        // Connection URL or DSN
	MaxIdleConns int           // Maximum number of idle connections
	MaxOpenConns int           // Maximum number of open connections
	MaxLifetime  time.Duration // Maximum lifetime of a connection
}

// Postgres stores documents in the legal_documents table and ranks search hits
// with ts_rank over a 'simple' tsvector, which does no Persian stemming.
type Postgres struct {
	client *sql.DB
}

// OpenPostgres connects, verifies the connection and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(cfg.MaxOpenConns)
	client.SetMaxIdleConns(cfg.MaxIdleConns)
	client.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := client.PingContext(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	log.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Msg("Connected to PostgreSQL document store")

	return &Postgres{client: client}, nil
}

// NewPostgres wraps an existing connection without touching the schema.
func NewPostgres(client *sql.DB) *Postgres {
	return &Postgres{client: client}
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.client.Close()
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.client.PingContext(ctx)
}

func setupSchema(ctx context.Context, client *sql.DB) error {
	_, err := client.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS legal_documents (
			id UUID PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			headings JSONB NOT NULL DEFAULT '[]',
			links JSONB NOT NULL DEFAULT '[]',
			metadata JSONB NOT NULL DEFAULT '{}',
			legal_categories JSONB NOT NULL DEFAULT '[]',
			categories TEXT[] NOT NULL DEFAULT '{}',
			relevance INTEGER NOT NULL DEFAULT 0,
			degraded BOOLEAN NOT NULL DEFAULT FALSE,
			fetched_at TIMESTAMPTZ NOT NULL,
			search_vector TSVECTOR GENERATED ALWAYS AS (
				to_tsvector('simple', coalesce(title, '') || ' ' || coalesce(content, ''))
			) STORED
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create legal_documents table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_legal_documents_search ON legal_documents USING GIN (search_vector)`,
		`CREATE INDEX IF NOT EXISTS idx_legal_documents_categories ON legal_documents USING GIN (categories)`,
		`CREATE INDEX IF NOT EXISTS idx_legal_documents_fetched_at ON legal_documents (fetched_at DESC)`,
	}
	for _, stmt := range indexes {
		if _, err := client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create legal_documents index: %w", err)
		}
	}

	return nil
}

const upsertDocumentSQL = `
	INSERT INTO legal_documents (
		id, url, title, content, headings, links, metadata,
		legal_categories, categories, relevance, degraded, fetched_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (url) DO UPDATE SET
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		headings = EXCLUDED.headings,
		links = EXCLUDED.links,
		metadata = EXCLUDED.metadata,
		legal_categories = EXCLUDED.legal_categories,
		categories = EXCLUDED.categories,
		relevance = EXCLUDED.relevance,
		degraded = EXCLUDED.degraded,
		fetched_at = EXCLUDED.fetched_at
	RETURNING id
`

const documentColumns = `id, url, title, content, headings, links, metadata, legal_categories, relevance, degraded, fetched_at`

// Put upserts doc by URL and returns the stored id.
func (p *Postgres) Put(ctx context.Context, doc *extract.Document) (string, error) {
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}

	headings, err := json.Marshal(doc.Headings)
	if err != nil {
		return "", fmt.Errorf("failed to encode headings: %w", err)
	}
	links, err := json.Marshal(doc.Links)
	if err != nil {
		return "", fmt.Errorf("failed to encode links: %w", err)
	}
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	categories, err := json.Marshal(doc.LegalCategories)
	if err != nil {
		return "", fmt.Errorf("failed to encode categories: %w", err)
	}

	var storedID string
	err = p.client.QueryRowContext(ctx, upsertDocumentSQL,
		id, doc.URL, doc.Title, doc.Content,
		headings, links, metadata, categories,
		pq.Array(categoryNames(doc)),
		doc.Relevance, doc.Degraded, doc.FetchedAt,
	).Scan(&storedID)
	if err != nil {
		return "", fmt.Errorf("failed to store document: %w", err)
	}

	return storedID, nil
}

// Get loads a document by id.
func (p *Postgres) Get(ctx context.Context, id string) (*extract.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	row := p.client.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM legal_documents WHERE id = $1`, id)

	doc, _, err := scanDocument(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return doc, nil
}

// Search returns documents matching every query term, best rank first.
func (p *Postgres) Search(ctx context.Context, q Query) ([]Match, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []Match{}, nil
	}

	rows, err := p.client.QueryContext(ctx, `
		SELECT `+documentColumns+`,
			ts_rank(search_vector, plainto_tsquery('simple', $1)) AS rank
		FROM legal_documents
		WHERE search_vector @@ plainto_tsquery('simple', $1)
			AND ($2 = '' OR $2 = ANY(categories))
		ORDER BY rank DESC, fetched_at DESC
		LIMIT $3
	`, q.Text, q.Category, q.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		doc, rank, err := scanDocument(rows, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		matches = append(matches, Match{Document: doc, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}

	return matches, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner, withRank bool) (*extract.Document, float64, error) {
	var doc extract.Document
	var headings, links, metadata, categories []byte
	var rank float64

	dest := []any{
		&doc.ID, &doc.URL, &doc.Title, &doc.Content,
		&headings, &links, &metadata, &categories,
		&doc.Relevance, &doc.Degraded, &doc.FetchedAt,
	}
	if withRank {
		dest = append(dest, &rank)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, 0, err
	}

	for _, field := range []struct {
		raw  []byte
		into any
		name string
	}{
		{headings, &doc.Headings, "headings"},
		{links, &doc.Links, "links"},
		{metadata, &doc.Metadata, "metadata"},
		{categories, &doc.LegalCategories, "legal_categories"},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.into); err != nil {
			return nil, 0, fmt.Errorf("failed to decode %s: %w", field.name, err)
		}
	}

	return &doc, rank, nil
}
