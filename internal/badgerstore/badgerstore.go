// Package badgerstore implements persistent block storage on BadgerDB.
// Blocks are write-once, so Put skips keys that already exist; larger values
// are xz-compressed at rest.
package badgerstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/storage"
)

var log *logrus.Logger

const (
	flagRaw = 0x00
	flagXZ  = 0x01

	// compressThreshold is the minimum payload size worth compressing.
	compressThreshold = 512
)

var (
	blockPrefix = []byte("block:")
	metaPrefix  = []byte("meta:")
)

// StoreConfig configures the badger-backed store.
type StoreConfig struct {
	Path          string
	MinimumFreeGB int
	Logger        *logrus.Logger
}

// Store is a BlockStorage and MetaStorage backed by a badger database.
type Store struct {
	config StoreConfig
	db     *badger.DB

	readCounter  uint64
	writeCounter uint64
}

// Open checks free disk space and opens the badger database at the
// configured path.
func Open(config StoreConfig) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	log = config.Logger

	if config.Path == "" {
		return nil, fmt.Errorf("badgerstore: path is required")
	}
	if err := checkFreeSpace(config.Path, config.MinimumFreeGB); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", config.Path, err)
	}

	return &Store{config: config, db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Counters returns the number of reads and writes since open.
func (s *Store) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&s.readCounter), atomic.LoadUint64(&s.writeCounter)
}

func blockKey(c cid.Cid) []byte {
	return append(append([]byte(nil), blockPrefix...), c[:]...)
}

func metaKey(key string) []byte {
	return append(append([]byte(nil), metaPrefix...), key...)
}

// PutBytes stores block bytes under the Cid. Existing keys are left
// untouched; stored blocks never change.
func (s *Store) PutBytes(c cid.Cid, data []byte) error {
	atomic.AddUint64(&s.writeCounter, 1)
	payload, err := encodePayload(data)
	if err != nil {
		return fmt.Errorf("badgerstore: encode %s: %w", c, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(blockKey(c)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(blockKey(c), payload)
	})
}

// GetBytes retrieves block bytes by Cid.
func (s *Store) GetBytes(c cid.Cid) ([]byte, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(c))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badgerstore: get %s: %w", c, err)
	}
	data, err := decodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: decode %s: %w", c, err)
	}
	return data, nil
}

// Has reports whether a block is stored under the Cid.
func (s *Store) Has(c cid.Cid) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blockKey(c))
		return err
	})
	return err == nil
}

// PutMeta stores a small mutable value, e.g. the current root pointer.
func (s *Store) PutMeta(key string, val []byte) error {
	atomic.AddUint64(&s.writeCounter, 1)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(key), val)
	})
}

// GetMeta retrieves a mutable value.
func (s *Store) GetMeta(key string) ([]byte, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badgerstore: get meta %q: %w", key, err)
	}
	return val, nil
}

// encodePayload prefixes the value with a flag byte and xz-compresses
// payloads above the threshold.
func encodePayload(data []byte) ([]byte, error) {
	if len(data) < compressThreshold {
		return append([]byte{flagRaw}, data...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(flagXZ)
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	switch payload[0] {
	case flagRaw:
		return payload[1:], nil
	case flagXZ:
		r, err := xz.NewReader(bytes.NewReader(payload[1:]))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("unknown payload flag 0x%02x", payload[0])
}
