package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jjudge-oj/userservice/types"
)

const (
	snapshotPrefix     = "snapshot-"
	snapshotExt        = ".json"
	snapshotTimeLayout = "20060102T150405Z"
)

// ErrNoSnapshot is returned by LatestSnapshot when nothing was exported yet.
var ErrNoSnapshot = errors.New("storage: no snapshot found")

// Snapshot is a point-in-time export of every user.
type Snapshot struct {
	TakenAt time.Time    `json:"taken_at"`
	Count   int          `json:"count"`
	Users   []types.User `json:"users"`
}

// SnapshotKey names the object a snapshot taken at t is stored under.
// Keys sort chronologically.
func (s *Storage) SnapshotKey(t time.Time) string {
	return s.key(snapshotPrefix + t.UTC().Format(snapshotTimeLayout) + snapshotExt)
}

// WriteSnapshot uploads users as one JSON document and returns its key.
func (s *Storage) WriteSnapshot(ctx context.Context, users []types.User, takenAt time.Time) (string, error) {
	if users == nil {
		users = []types.User{}
	}
	snap := Snapshot{
		TakenAt: takenAt.UTC(),
		Count:   len(users),
		Users:   users,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := s.SnapshotKey(takenAt)
	if err := s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return key, nil
}

// ReadSnapshot downloads and decodes the snapshot stored at key.
func (s *Storage) ReadSnapshot(ctx context.Context, key string) (Snapshot, error) {
	r, err := s.backend.Get(ctx, key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot %s: %w", key, err)
	}
	defer r.Close()

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snap, nil
}

// Snapshots lists snapshot keys, oldest first.
func (s *Storage) Snapshots(ctx context.Context) ([]string, error) {
	keys, err := s.backend.List(ctx, s.key(snapshotPrefix))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, snapshotExt) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LatestSnapshot returns the key of the newest snapshot.
func (s *Storage) LatestSnapshot(ctx context.Context) (string, error) {
	keys, err := s.Snapshots(ctx)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", ErrNoSnapshot
	}
	return keys[len(keys)-1], nil
}

// PruneSnapshots deletes all but the newest keep snapshots and returns the
// deleted keys. keep < 1 is a no-op.
func (s *Storage) PruneSnapshots(ctx context.Context, keep int) ([]string, error) {
	if keep < 1 {
		return nil, nil
	}
	keys, err := s.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) <= keep {
		return nil, nil
	}

	stale := keys[:len(keys)-keep]
	for _, k := range stale {
		if err := s.backend.Delete(ctx, k); err != nil {
			return nil, fmt.Errorf("delete snapshot %s: %w", k, err)
		}
	}
	return stale, nil
}
