// Package store implements the Partition State Store (spec C3): the
// BUCKETS/CURRENT/PREVIOUS cells of the replicated keyed store, written as
// a single batched unit and read back as a coherent snapshot.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/alertpart/partman/internal/bucket"
	"github.com/alertpart/partman/internal/substrate"
)

// TriggerKey mirrors partman.TriggerKey without importing it, keeping
// this package's dependency graph flowing only toward internal/bucket
// and internal/substrate.
type TriggerKey struct {
	TenantID  string
	TriggerID string
}

// Partition maps a trigger key to the node that currently owns it.
type Partition map[TriggerKey]bucket.NodeId

// Snapshot is the coherent (BUCKETS, CURRENT, PREVIOUS) triple read from a
// single epoch.
type Snapshot struct {
	Epoch    uint64
	Buckets  bucket.Table
	Current  Partition
	Previous Partition // empty (not nil) after the first write, which has no prior CURRENT
}

// Store wraps the substrate's "partition" cell. Every write puts a
// monotonically increasing EPOCH alongside BUCKETS/CURRENT/PREVIOUS in the
// same BatchPut call. Read fetches EPOCH, then each of the other keys with
// separate Get calls, then EPOCH again; if the epoch changed in between, a
// batch landed mid-read and Read starts over.
type Store struct {
	cell substrate.KeyedCell
}

func New(cell substrate.KeyedCell) *Store {
	return &Store{cell: cell}
}

// Read returns the current coherent snapshot. Returns (Snapshot{}, false,
// nil) when nothing has ever been written (true cold start: no BUCKETS
// either).
func (s *Store) Read(ctx context.Context) (Snapshot, bool, error) {
	epochBytes, ok, err := s.cell.Get(ctx, substrate.KeyEpoch)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("store: read epoch: %w", err)
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	epoch := binary.BigEndian.Uint64(epochBytes)

	buckets, err := s.readBuckets(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}
	current, err := s.readPartition(ctx, substrate.KeyCurrent)
	if err != nil {
		return Snapshot{}, false, err
	}
	previous, err := s.readPartition(ctx, substrate.KeyPrevious)
	if err != nil {
		return Snapshot{}, false, err
	}

	// A batch written between the Gets above also moved EPOCH; read again
	// rather than return keys from two different batches.
	againBytes, ok, err := s.cell.Get(ctx, substrate.KeyEpoch)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("store: read epoch: %w", err)
	}
	if !ok || binary.BigEndian.Uint64(againBytes) != epoch {
		return s.Read(ctx)
	}

	return Snapshot{
		Epoch:    epoch,
		Buckets:  buckets,
		Current:  current,
		Previous: previous,
	}, true, nil
}

func (s *Store) readBuckets(ctx context.Context) (bucket.Table, error) {
	raw, ok, err := s.cell.Get(ctx, substrate.KeyBuckets)
	if err != nil {
		return nil, fmt.Errorf("store: read BUCKETS: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var t bucket.Table
	if err := decode(raw, &t); err != nil {
		return nil, fmt.Errorf("store: decode BUCKETS: %w", err)
	}
	return t, nil
}

func (s *Store) readPartition(ctx context.Context, key string) (Partition, error) {
	raw, ok, err := s.cell.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	var p Partition
	if err := decode(raw, &p); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return p, nil
}

// WriteReconciliation performs the C4 step-6 batch write: a brand new
// BUCKETS + CURRENT, with PREVIOUS set to the prior CURRENT (if any).
func (s *Store) WriteReconciliation(ctx context.Context, nextEpoch uint64, buckets bucket.Table, previous, current Partition) error {
	return s.batchWrite(ctx, nextEpoch, buckets, previous, current)
}

// WriteTriggerMutation performs the C5 step-2c single-key batch write: the
// bucket table is unchanged, only CURRENT (and PREVIOUS, mirroring the old
// CURRENT) move.
func (s *Store) WriteTriggerMutation(ctx context.Context, nextEpoch uint64, buckets bucket.Table, previous, current Partition) error {
	return s.batchWrite(ctx, nextEpoch, buckets, previous, current)
}

func (s *Store) batchWrite(ctx context.Context, nextEpoch uint64, buckets bucket.Table, previous, current Partition) error {
	bucketsBytes, err := encode(buckets)
	if err != nil {
		return fmt.Errorf("store: encode BUCKETS: %w", err)
	}
	currentBytes, err := encode(current)
	if err != nil {
		return fmt.Errorf("store: encode CURRENT: %w", err)
	}
	previousBytes, err := encode(previous)
	if err != nil {
		return fmt.Errorf("store: encode PREVIOUS: %w", err)
	}
	epochBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(epochBytes, nextEpoch)

	kvs := map[string][]byte{
		substrate.KeyBuckets:  bucketsBytes,
		substrate.KeyCurrent:  currentBytes,
		substrate.KeyPrevious: previousBytes,
		substrate.KeyEpoch:    epochBytes,
	}
	if err := s.cell.BatchPut(ctx, kvs); err != nil {
		return fmt.Errorf("store: batch write: %w", err)
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
