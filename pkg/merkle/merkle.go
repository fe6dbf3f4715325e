// Package merkle implements the content-addressable block store. Blocks are
// immutable, keyed by the Cid of their canonical encoding, and link to child
// blocks by Cid, forming a Merkle DAG. Deletion never happens at this layer;
// unreferenced blocks simply become unreachable from newer roots.
package merkle

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/storage"
)

// Kind tags the block variant.
type Kind string

const (
	// KindNode holds a serialized vertex record.
	KindNode Kind = "node"
	// KindEdge holds a serialized edge record; its children are the Cids of
	// the endpoint node blocks.
	KindEdge Kind = "edge"
	// KindGraph is a snapshot root listing every vertex and edge block.
	KindGraph Kind = "graph"
)

// Block is one immutable storage unit.
type Block struct {
	Cid      cid.Cid
	Kind     Kind
	Content  []byte
	Children []cid.Cid
}

// ErrNotFound is returned by Get for unknown Cids.
var ErrNotFound = storage.ErrNotFound

// ErrCorrupt indicates stored bytes that no longer hash to their key.
var ErrCorrupt = errors.New("merkle: block bytes do not match cid")

// envelope is the canonical wire form of a block. Content is base64 under
// encoding/json; children are lowercase hex digests.
type envelope struct {
	Kind     string   `json:"kind"`
	Content  []byte   `json:"content"`
	Children []string `json:"children"`
}

// Store layers content addressing over a BlockStorage backend.
type Store struct {
	cc      cid.Computer
	backend storage.BlockStorage
}

// NewStore creates a merkle store on top of backend using the given hash
// algorithm. An empty algorithm selects SHA-256.
func NewStore(backend storage.BlockStorage, algo cid.Algorithm) *Store {
	return &Store{cc: cid.Computer{Algo: algo}, backend: backend}
}

// Computer returns the Cid computer the store hashes with.
func (s *Store) Computer() cid.Computer { return s.cc }

func (s *Store) encode(kind Kind, content []byte, children []cid.Cid) ([]byte, cid.Cid, error) {
	env := envelope{
		Kind:     string(kind),
		Content:  content,
		Children: make([]string, len(children)),
	}
	if env.Content == nil {
		env.Content = []byte{}
	}
	for i, ch := range children {
		env.Children[i] = ch.String()
	}
	canonical, err := cid.Canonicalize(env)
	if err != nil {
		return nil, cid.Cid{}, err
	}
	return canonical, s.cc.Sum(canonical), nil
}

// Put computes the combined Cid over content and children and inserts the
// block if absent. Put is idempotent: identical input always returns the
// same Cid and stores a single block.
func (s *Store) Put(kind Kind, content []byte, children []cid.Cid) (cid.Cid, error) {
	canonical, c, err := s.encode(kind, content, children)
	if err != nil {
		return cid.Cid{}, err
	}
	if s.backend.Has(c) {
		return c, nil
	}
	if err := s.backend.PutBytes(c, canonical); err != nil {
		return cid.Cid{}, fmt.Errorf("merkle: put %s: %w", c, err)
	}
	return c, nil
}

// Get retrieves and verifies a block. Returns ErrNotFound for unknown Cids
// and ErrCorrupt when stored bytes fail integrity verification.
func (s *Store) Get(c cid.Cid) (*Block, error) {
	raw, err := s.backend.GetBytes(c)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("merkle: get %s: %w", c, ErrNotFound)
		}
		return nil, fmt.Errorf("merkle: get %s: %w", c, err)
	}
	if got := s.cc.Sum(raw); got != c {
		return nil, fmt.Errorf("%w: key %s, got %s", ErrCorrupt, c, got)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("merkle: decode %s: %w", c, err)
	}
	blk := &Block{
		Cid:      c,
		Kind:     Kind(env.Kind),
		Content:  env.Content,
		Children: make([]cid.Cid, len(env.Children)),
	}
	for i, ch := range env.Children {
		parsed, err := cid.Parse(ch)
		if err != nil {
			return nil, fmt.Errorf("merkle: decode %s child %d: %w", c, i, err)
		}
		blk.Children[i] = parsed
	}
	return blk, nil
}

// Contains reports whether a block is stored under c.
func (s *Store) Contains(c cid.Cid) bool {
	return s.backend.Has(c)
}
