// Package mvcc implements optimistic multi-version concurrency control over
// graph snapshots. The only shared mutable state in the whole engine is the
// manager's current-root pointer; it changes exclusively through the
// compare-and-swap inside Commit. Readers always see a fully committed,
// immutable snapshot and never block.
package mvcc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/merkle"
	"github.com/rewritedb/rewritedb/pkg/model"
)

var (
	// ErrConflict is returned when the current root moved past a
	// transaction's base snapshot. First committer against a base wins;
	// losers rebase with a fresh Begin and retry.
	ErrConflict = errors.New("mvcc: commit conflict, root has moved")

	// ErrFinished is returned when staging or finishing a transaction that
	// already reached a terminal state.
	ErrFinished = errors.New("mvcc: transaction already finished")
)

// State is the transaction lifecycle state.
type State uint8

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Tx is one unit of mutation. A Tx is not safe for concurrent use; it
// belongs to the goroutine that began it. Staged writes are invisible to
// every reader until Commit succeeds.
type Tx struct {
	id   string
	base cid.Cid
	snap *graph.Snapshot

	state  State
	loaded bool

	vertices map[string]model.VertexRecord
	edges    map[string]model.EdgeRecord
}

// ID returns the transaction's identifier.
func (tx *Tx) ID() string { return tx.id }

// Base returns the root Cid the transaction is based on.
func (tx *Tx) Base() cid.Cid { return tx.base }

// State returns the current lifecycle state.
func (tx *Tx) State() State { return tx.state }

// Snapshot returns the immutable base snapshot of the transaction.
func (tx *Tx) Snapshot() *graph.Snapshot { return tx.snap }

// load copies the base snapshot into the working set on first staging.
func (tx *Tx) load() error {
	if tx.loaded {
		return nil
	}
	vertices, err := tx.snap.Vertices()
	if err != nil {
		return err
	}
	edges, err := tx.snap.Edges()
	if err != nil {
		return err
	}
	tx.vertices = vertices
	tx.edges = edges
	tx.loaded = true
	return nil
}

// Manager owns the process-wide current root. It is initialized at store
// open and mutated only through the commit compare-and-swap.
type Manager struct {
	store *merkle.Store
	log   *slog.Logger

	mu     sync.Mutex
	root   cid.Cid
	onSwap func(cid.Cid) error
}

// NewManager creates a manager with an initial committed root.
func NewManager(store *merkle.Store, root cid.Cid, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, log: log, root: root}
}

// OnSwap installs a hook invoked after every successful root swap, e.g. to
// persist the pointer. A hook error rolls the swap back and fails the
// commit.
func (m *Manager) OnSwap(fn func(cid.Cid) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSwap = fn
}

// CurrentRoot returns the committed root pointer.
func (m *Manager) CurrentRoot() cid.Cid {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// Snapshot returns a read-only view of the current committed state.
func (m *Manager) Snapshot() *graph.Snapshot {
	return graph.NewSnapshot(m.store, m.CurrentRoot())
}

// SnapshotAt returns a read-only view of any historical root.
func (m *Manager) SnapshotAt(root cid.Cid) *graph.Snapshot {
	return graph.NewSnapshot(m.store, root)
}

// Begin opens a transaction based on the current root.
func (m *Manager) Begin() *Tx {
	base := m.CurrentRoot()
	return &Tx{
		id:    uuid.NewString(),
		base:  base,
		snap:  graph.NewSnapshot(m.store, base),
		state: Active,
	}
}

// Stage applies a patch to the transaction's copy-on-write working set. No
// global state changes; nothing is written to the merkle store yet.
func (m *Manager) Stage(tx *Tx, patch *model.Patch) error {
	if tx.state != Active {
		return fmt.Errorf("%w: %s is %s", ErrFinished, tx.id, tx.state)
	}
	if patch.Empty() {
		return nil
	}
	if err := tx.load(); err != nil {
		return err
	}
	for _, id := range patch.DelEdges {
		if _, ok := tx.edges[id]; !ok {
			return fmt.Errorf("mvcc: stage %s: delete of unknown edge %q", tx.id, id)
		}
		delete(tx.edges, id)
	}
	for _, id := range patch.DelVertices {
		if _, ok := tx.vertices[id]; !ok {
			return fmt.Errorf("mvcc: stage %s: delete of unknown vertex %q", tx.id, id)
		}
		delete(tx.vertices, id)
	}
	for _, rec := range patch.UpdateVertices {
		if _, ok := tx.vertices[rec.ID]; !ok {
			return fmt.Errorf("mvcc: stage %s: update of unknown vertex %q", tx.id, rec.ID)
		}
		tx.vertices[rec.ID] = rec.Clone()
	}
	for _, rec := range patch.UpdateEdges {
		if _, ok := tx.edges[rec.ID]; !ok {
			return fmt.Errorf("mvcc: stage %s: update of unknown edge %q", tx.id, rec.ID)
		}
		tx.edges[rec.ID] = rec.Clone()
	}
	for _, rec := range patch.AddVertices {
		if _, ok := tx.vertices[rec.ID]; ok {
			return fmt.Errorf("mvcc: stage %s: vertex %q already exists", tx.id, rec.ID)
		}
		tx.vertices[rec.ID] = rec.Clone()
	}
	for _, rec := range patch.AddEdges {
		if _, ok := tx.edges[rec.ID]; ok {
			return fmt.Errorf("mvcc: stage %s: edge %q already exists", tx.id, rec.ID)
		}
		tx.edges[rec.ID] = rec.Clone()
	}
	return nil
}

// Commit materializes the write-set and swaps the current root if it still
// equals the transaction's base. Exactly one concurrent commit against a
// given base succeeds; every other receives ErrConflict and the losing
// transaction ends Aborted. Blocks written for a losing transaction stay
// unreachable; there is no erasure.
func (m *Manager) Commit(ctx context.Context, tx *Tx) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Cid{}, err
	}
	if tx.state != Active {
		return cid.Cid{}, fmt.Errorf("%w: %s is %s", ErrFinished, tx.id, tx.state)
	}

	// Nothing staged: commit is a no-op keeping the base root, still
	// subject to the CAS below.
	newRoot := tx.base
	if tx.loaded {
		var err error
		// Materializing outside the lock is safe: blocks are write-once and
		// simply remain unreachable if the CAS fails.
		newRoot, err = graph.Materialize(m.store, tx.vertices, tx.edges)
		if err != nil {
			tx.state = Aborted
			return cid.Cid{}, fmt.Errorf("mvcc: commit %s: %w", tx.id, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.root != tx.base {
		tx.state = Aborted
		m.log.Debug("commit conflict", "tx", tx.id, "base", tx.base.String(), "root", m.root.String())
		return cid.Cid{}, ErrConflict
	}
	prev := m.root
	m.root = newRoot
	if m.onSwap != nil {
		if err := m.onSwap(newRoot); err != nil {
			m.root = prev
			tx.state = Aborted
			return cid.Cid{}, fmt.Errorf("mvcc: persist root for %s: %w", tx.id, err)
		}
	}
	tx.state = Committed
	m.log.Debug("committed", "tx", tx.id, "root", newRoot.String())
	return newRoot, nil
}

// Abort marks the transaction Aborted. Staged state becomes garbage; no
// explicit erasure happens.
func (m *Manager) Abort(tx *Tx) error {
	if tx.state != Active {
		return fmt.Errorf("%w: %s is %s", ErrFinished, tx.id, tx.state)
	}
	tx.state = Aborted
	return nil
}
