// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/campuschat/internal/model"
)

// snapshotKey is the KV key the session snapshot lives under.
const snapshotKey = "campuschat/sessions"

// =============================================================================
// SNAPSHOT TYPE
// =============================================================================

// Snapshot is the persisted form of the session registry: the full session
// list (messages included) and the active-session pointer. No connection or
// pending-request state is ever part of it.
type Snapshot struct {
	Sessions        []*model.Session `json:"sessions"`
	ActiveSessionID string           `json:"active_session_id"`
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

// SnapshotStore reads and writes the session snapshot through a KV.
type SnapshotStore struct {
	kv KV
}

// NewSnapshotStore creates a snapshot store over the given KV.
func NewSnapshotStore(kv KV) *SnapshotStore {
	return &SnapshotStore{kv: kv}
}

// Load reads the persisted snapshot. Returns (nil, nil) when no snapshot
// exists; a parse failure is returned as an error so the caller can log it
// and fall back to a default session.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	raw, ok, err := s.kv.Get(snapshotKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if len(snap.Sessions) == 0 {
		return nil, nil
	}
	return &snap, nil
}

// Save writes the snapshot. The encoding is deterministic, so persisting,
// reloading, and persisting again yields byte-identical stored values.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.kv.Set(snapshotKey, string(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
