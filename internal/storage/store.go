// Package storage persists chain state to a go.etcd.io/bbolt database,
// keyed by height and by hash, CBOR-encoding values with the same
// canonical encoder used for hashing. The chain engine itself never
// touches storage — cmd/node wires a Store to
// chain.Blockchain.Snapshot()/LoadSnapshot() around each admitted block.
package storage

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/djkazic/gopow/internal/chain"
	"github.com/djkazic/gopow/pkg/chainhash"
)

var (
	blocksByHeightBucket = []byte("blocks_by_height")
	blocksByHashBucket   = []byte("blocks_by_hash")
	metaBucket           = []byte("meta")

	metaTargetKey = []byte("target")
	metaHeightKey = []byte("height")
)

// Store is a bbolt-backed persistence layer for a Blockchain's admitted
// blocks and current difficulty target.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) a bbolt database at path and ensures
// its buckets exist.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{blocksByHeightBucket, blocksByHashBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBlock persists block at height, indexed by both height and hash.
func (s *Store) SaveBlock(height int, block chain.Block) error {
	data, err := chainhash.Canonicalize(block)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	hash := block.Hash()

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(blocksByHeightBucket).Put(heightKey(height), data); err != nil {
			return err
		}
		return tx.Bucket(blocksByHashBucket).Put(hash[:], data)
	})
}

// BlockByHeight reads back a block previously saved at height.
func (s *Store) BlockByHeight(height int) (chain.Block, bool, error) {
	var block chain.Block
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(blocksByHeightBucket).Get(heightKey(height))
		if data == nil {
			return nil
		}
		found = true
		return decodeBlock(data, &block)
	})
	return block, found, err
}

// BlockByHash reads back a block previously saved under hash.
func (s *Store) BlockByHash(hash chainhash.Hash) (chain.Block, bool, error) {
	var block chain.Block
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(blocksByHashBucket).Get(hash[:])
		if data == nil {
			return nil
		}
		found = true
		return decodeBlock(data, &block)
	})
	return block, found, err
}

// SaveSnapshot persists snap's target and height marker; SaveBlock must be
// called for each of snap.Blocks separately (SaveSnapshot writes only this
// metadata, no blocks, so callers can call it once per admitted block
// without re-writing the whole chain each time).
func (s *Store) SaveSnapshot(snap chain.Snapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		targetData, err := chainhash.Canonicalize(snap.Target)
		if err != nil {
			return fmt.Errorf("encode target: %w", err)
		}
		if err := meta.Put(metaTargetKey, targetData); err != nil {
			return err
		}
		return meta.Put(metaHeightKey, heightKey(len(snap.Blocks)))
	})
}

// LoadSnapshot reconstructs a chain.Snapshot from every block saved by
// height, plus the persisted difficulty target. Used at cmd/node startup.
func (s *Store) LoadSnapshot() (chain.Snapshot, error) {
	var snap chain.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		heightData := meta.Get(metaHeightKey)
		if heightData == nil {
			return nil
		}
		height := int(binary.BigEndian.Uint64(heightData))

		targetData := meta.Get(metaTargetKey)
		if targetData != nil {
			if err := decodeHash(targetData, &snap.Target); err != nil {
				return fmt.Errorf("decode target: %w", err)
			}
		} else {
			snap.Target = chainhash.MinTarget
		}

		blocks := tx.Bucket(blocksByHeightBucket)
		for h := 0; h < height; h++ {
			data := blocks.Get(heightKey(h))
			if data == nil {
				return fmt.Errorf("missing block at height %d", h)
			}
			var block chain.Block
			if err := decodeBlock(data, &block); err != nil {
				return err
			}
			snap.Blocks = append(snap.Blocks, block)
		}
		return nil
	})
	if err != nil {
		return chain.Snapshot{}, err
	}
	if snap.Target.IsZero() {
		snap.Target = chainhash.MinTarget
	}
	return snap, nil
}

func heightKey(height int) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(height))
	return b[:]
}
