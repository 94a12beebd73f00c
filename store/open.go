package store

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"snapgraph/cas"
	"snapgraph/changeset"
)

// Content backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config selects and configures the storage backends.
type Config struct {
	// Backend is where content objects live: sqlite, badger or memory.
	Backend string
	// DataDir holds snapgraph.db and, for the badger backend, content/.
	DataDir       string
	CompressAbove int
	SyncWrites    bool
	// CacheEntries sizes the read-through content cache; zero disables it.
	CacheEntries int
	Logger       *logrus.Logger
}

// Backends are the opened stores. Change sets always live in SQLite unless
// the backend is memory.
type Backends struct {
	Content cas.Store
	Repo    changeset.Repository
	// DB is the SQLite database, nil for the memory backend.
	DB *DB
	// Badger holds content for the badger backend.
	Badger *BadgerContent

	closers []io.Closer
}

// OpenBackends opens the stores cfg describes.
func OpenBackends(cfg Config) (*Backends, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	b := &Backends{}

	switch cfg.Backend {
	case BackendMemory:
		b.Content = cas.NewMemoryStore()
		b.Repo = changeset.NewMemoryRepository()
	case BackendSQLite, BackendBadger, "":
		db, err := Open(SQLiteConfig{
			Path:          filepath.Join(cfg.DataDir, "snapgraph.db"),
			CompressAbove: cfg.CompressAbove,
			Logger:        cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		b.DB = db
		b.Repo = db
		b.Content = db
		b.closers = append(b.closers, db)

		if cfg.Backend == BackendBadger {
			content, err := OpenBadger(BadgerConfig{
				Path:          filepath.Join(cfg.DataDir, "content"),
				CompressAbove: cfg.CompressAbove,
				SyncWrites:    cfg.SyncWrites,
				Logger:        cfg.Logger,
			})
			if err != nil {
				db.Close()
				return nil, err
			}
			b.Content = content
			b.Badger = content
			b.closers = append(b.closers, content)
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.CacheEntries > 0 {
		b.Content = cas.NewCachedStore(b.Content, cfg.CacheEntries)
	}
	cfg.Logger.WithFields(logrus.Fields{
		"backend":  cfg.Backend,
		"data_dir": cfg.DataDir,
		"cache":    cfg.CacheEntries,
	}).Info("storage opened")
	return b, nil
}

// Close closes every opened backend, newest first.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
