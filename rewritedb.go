// Package rewritedb is a content-addressed property-graph store with a
// double-pushout rewrite kernel. The DB handle owns the block storage, the
// Merkle store, the MVCC manager, and the guard registry.
package rewritedb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewritedb/rewritedb/internal/badgerstore"
	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/guard"
	"github.com/rewritedb/rewritedb/pkg/merkle"
	"github.com/rewritedb/rewritedb/pkg/mvcc"
	"github.com/rewritedb/rewritedb/pkg/rewrite"
	"github.com/rewritedb/rewritedb/pkg/storage"
)

var (
	ErrNotStarted = errors.New("rewritedb: database not started")
	ErrClosed     = errors.New("rewritedb: database closed")
)

// currentRootKey is the meta key holding the 32-byte current root pointer.
const currentRootKey = "current_root"

// Config configures the database instance. Only Paths[0] is used at the
// moment; an empty Paths runs the store fully in memory.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold for on-disk operation.
	MinimumFreeGB uint
	// Hash selects the Cid digest; empty selects SHA-256.
	Hash cid.Algorithm
	// Parallelism > 1 fans the match search out across workers.
	Parallelism int
	// MaxRetries bounds conflict retries per rule application; zero selects
	// the executor default.
	MaxRetries int
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
}

// backing is the persistence surface a DB runs on: write-once blocks plus a
// small mutable meta area for the root pointer.
type backing interface {
	storage.BlockStorage
	storage.MetaStorage
}

// DB is the main database handle.
type DB struct {
	log    *slog.Logger
	config Config

	backendMu sync.RWMutex
	backend   backing

	store  *merkle.Store
	mgr    *mvcc.Manager
	guards *guard.Registry
	exec   *rewrite.Executor

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New constructs a database handle. New does not perform heavy I/O; call
// Start to open storage and restore the root pointer.
func New(conf Config) (*DB, error) {
	if conf.Hash == "" {
		conf.Hash = cid.Sha256
	}
	if conf.Hash != cid.Sha256 && conf.Hash != cid.Blake3 {
		return nil, fmt.Errorf("rewritedb: unknown hash algorithm %q", conf.Hash)
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	return &DB{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start opens the block storage, restores or initializes the current root,
// and wires the MVCC manager. Start is safe to call multiple times; only the
// first call has effect.
func (db *DB) Start(ctx context.Context) error {
	var startErr error
	db.startOnce.Do(func() {
		backend, err := db.openBackend()
		if err != nil {
			startErr = err
			return
		}

		store := merkle.NewStore(backend, db.config.Hash)

		root, err := restoreRoot(store, backend)
		if err != nil {
			startErr = err
			return
		}

		mgr := mvcc.NewManager(store, root, db.log)
		mgr.OnSwap(func(c cid.Cid) error {
			return backend.PutMeta(currentRootKey, c.Bytes())
		})

		db.backendMu.Lock()
		db.backend = backend
		db.backendMu.Unlock()
		db.store = store
		db.mgr = mgr
		db.guards = guard.NewRegistry()
		db.exec = rewrite.NewExecutor(mgr, db.guards, db.log)
		db.exec.Parallelism = db.config.Parallelism
		db.exec.MaxRetries = db.config.MaxRetries

		db.started.Store(true)
		db.log.Info("rewritedb started", "root", root.String(), "hash", string(db.config.Hash))
	})
	return startErr
}

func (db *DB) openBackend() (backing, error) {
	if len(db.config.Paths) == 0 {
		return storage.NewMemory(), nil
	}
	dataRoot := db.config.Paths[0]
	if err := os.MkdirAll(dataRoot, 0o700); err != nil {
		return nil, fmt.Errorf("rewritedb: mkdir %s: %w", dataRoot, err)
	}
	store, err := badgerstore.Open(badgerstore.StoreConfig{
		Path:          filepath.Join(dataRoot, "blocks"),
		MinimumFreeGB: int(db.config.MinimumFreeGB),
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// restoreRoot reads the persisted root pointer, or materializes the empty
// graph on first start.
func restoreRoot(store *merkle.Store, backend backing) (cid.Cid, error) {
	raw, err := backend.GetMeta(currentRootKey)
	if errors.Is(err, storage.ErrNotFound) {
		root, err := graph.MaterializeEmpty(store)
		if err != nil {
			return cid.Cid{}, fmt.Errorf("rewritedb: init empty graph: %w", err)
		}
		if err := backend.PutMeta(currentRootKey, root.Bytes()); err != nil {
			return cid.Cid{}, fmt.Errorf("rewritedb: persist root: %w", err)
		}
		return root, nil
	}
	if err != nil {
		return cid.Cid{}, fmt.Errorf("rewritedb: restore root: %w", err)
	}
	if len(raw) != cid.Size {
		return cid.Cid{}, fmt.Errorf("rewritedb: stored root pointer has %d bytes, want %d", len(raw), cid.Size)
	}
	var root cid.Cid
	copy(root[:], raw)
	if !store.Contains(root) {
		return cid.Cid{}, fmt.Errorf("rewritedb: stored root %s not present in block storage", root)
	}
	return root, nil
}

// Merkle returns the block store. It is nil before Start.
func (db *DB) Merkle() *merkle.Store { return db.store }

// MVCC returns the transaction manager. It is nil before Start.
func (db *DB) MVCC() *mvcc.Manager { return db.mgr }

// Guards returns the guard registry so applications can register their own
// predicates before running rules.
func (db *DB) Guards() *guard.Registry { return db.guards }

// CurrentRoot returns the committed root Cid.
func (db *DB) CurrentRoot() (cid.Cid, error) {
	if err := db.ready(); err != nil {
		return cid.Cid{}, err
	}
	return db.mgr.CurrentRoot(), nil
}

// Snapshot returns a read view of the current committed graph.
func (db *DB) Snapshot() (*graph.Snapshot, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	return db.mgr.Snapshot(), nil
}

// SnapshotAt returns a read view of any historical root. Old roots stay
// readable as long as their blocks are stored.
func (db *DB) SnapshotAt(root cid.Cid) (*graph.Snapshot, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	return db.mgr.SnapshotAt(root), nil
}

// Begin starts a transaction against the current root.
func (db *DB) Begin() (*mvcc.Tx, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	return db.mgr.Begin(), nil
}

// Run interprets a strategy tree against the current graph.
func (db *DB) Run(ctx context.Context, s rewrite.Strategy) (rewrite.Result, error) {
	if err := db.ready(); err != nil {
		return rewrite.Result{}, err
	}
	return db.exec.Run(ctx, s)
}

func (db *DB) ready() error {
	if !db.started.Load() {
		return ErrNotStarted
	}
	db.backendMu.RLock()
	backend := db.backend
	db.backendMu.RUnlock()
	if backend == nil {
		return ErrClosed
	}
	return nil
}

// Close releases storage resources. Close is idempotent.
func (db *DB) Close(ctx context.Context) error {
	var closeErr error
	db.closeOnce.Do(func() {
		db.backendMu.Lock()
		backend := db.backend
		db.backend = nil
		db.backendMu.Unlock()

		if store, ok := backend.(*badgerstore.Store); ok && store != nil {
			if err := store.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close storage: %w", err))
			}
		}
		db.log.Info("rewritedb closed")
	})
	return closeErr
}

// CloseWithoutContext closes the database using a background context.
// Prefer Close(ctx) to enforce an application-specific shutdown deadline.
func (db *DB) CloseWithoutContext() error {
	return db.Close(context.Background())
}

// RunUntilCanceled starts the database, blocks until ctx is canceled, then
// performs a bounded graceful shutdown. It is a convenience for services.
func (db *DB) RunUntilCanceled(ctx context.Context) error {
	if err := db.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return db.Close(shutdownCtx)
}
