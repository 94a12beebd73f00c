// Package store provides durable storage for snapgraph: a SQLite database
// holding content objects, workspaces, change sets and pointer history, and
// a Badger-backed alternative for content alone.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"snapgraph/cas"
	"snapgraph/metrics"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var ErrCorrupt = errors.New("stored content does not match its hash")

// DB wraps a SQLite connection. It implements cas.Store and
// changeset.Repository.
type DB struct {
	conn          *sql.DB
	path          string
	compressAbove int
	log           *logrus.Logger
}

// SQLiteConfig configures Open.
type SQLiteConfig struct {
	Path string
	// CompressAbove is the object size from which content is zstd-compressed
	// at rest. Zero uses DefaultCompressAbove; negative disables compression.
	CompressAbove int
	Logger        *logrus.Logger
}

// Open opens or creates the database at cfg.Path.
func Open(cfg SQLiteConfig) (*DB, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.CompressAbove == 0 {
		cfg.CompressAbove = DefaultCompressAbove
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Pragmas are per connection.
	conn.SetMaxOpenConns(1)

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	cfg.Logger.WithField("path", cfg.Path).Debug("sqlite store opened")
	return &DB{conn: conn, path: cfg.Path, compressAbove: cfg.CompressAbove, log: cfg.Logger}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// ----- Content -----

// Put stores data under its hash. Storing the same bytes again is a no-op.
func (db *DB) Put(ctx context.Context, data []byte) (cas.Hash, error) {
	h := cas.Sum(data)
	packed, codec := compress(data, db.compressAbove)
	res, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO content (hash, size, codec, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		h.String(), len(data), codec, packed, cas.NowMs(),
	)
	if err != nil {
		return cas.ZeroHash, fmt.Errorf("inserting content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cas.ZeroHash, fmt.Errorf("inserting content: %w", err)
	}
	if n == 0 {
		metrics.ContentWrites.WithLabelValues("sqlite", "dedup").Inc()
	} else {
		metrics.ContentWrites.WithLabelValues("sqlite", "stored").Inc()
	}
	return h, nil
}

// Get returns the bytes stored under h, verifying them against the hash.
func (db *DB) Get(ctx context.Context, h cas.Hash) ([]byte, error) {
	var (
		codec  string
		packed []byte
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT codec, data FROM content WHERE hash = ?`, h.String(),
	).Scan(&codec, &packed)
	if err == sql.ErrNoRows {
		return nil, cas.NotFound(h)
	}
	if err != nil {
		return nil, fmt.Errorf("querying content: %w", err)
	}
	data, err := decompress(packed, codec)
	if err != nil {
		return nil, err
	}
	if cas.Sum(data) != h {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, h)
	}
	return data, nil
}

// Has reports whether h is stored.
func (db *DB) Has(ctx context.Context, h cas.Hash) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content WHERE hash = ?`, h.String(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking content: %w", err)
	}
	return count > 0, nil
}

// ContentStats summarizes the content table.
type ContentStats struct {
	Objects    int64 `json:"objects"`
	Bytes      int64 `json:"bytes"`
	Compressed int64 `json:"compressed"`
}

// Stats counts stored objects, their logical size, and how many are
// compressed at rest.
func (db *DB) Stats(ctx context.Context) (ContentStats, error) {
	var s ContentStats
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(codec = ?), 0) FROM content`, CodecZstd,
	).Scan(&s.Objects, &s.Bytes, &s.Compressed)
	if err != nil {
		return s, fmt.Errorf("querying content stats: %w", err)
	}
	return s, nil
}
