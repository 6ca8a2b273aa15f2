package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"inventory_go/internal/domain"
)

const (
	snapshotPrefix = "snapshot_"
	snapshotExt    = ".json"
)

// Snapshot is a point-in-time capture of a MemoryStore. Alerts are derived
// state and are recomputed after a restore.
type Snapshot struct {
	Seq          uint64                `json:"seq"`
	TsUnix       int64                 `json:"ts"`
	Stocks       []*domain.StockRecord `json:"stocks"`
	Reservations []*domain.Reservation `json:"reservations"`
}

// snapshotEnvelope is the on-disk form. Checksum covers Body so a
// truncated or hand-edited file is rejected instead of half-restored.
type snapshotEnvelope struct {
	Checksum uint32          `json:"crc32"`
	Body     json.RawMessage `json:"body"`
}

// CreateSnapshot captures the current contents of a memory store.
func CreateSnapshot(seq uint64, s *MemoryStore, now time.Time) *Snapshot {
	stocks, reservations := s.Export()
	return &Snapshot{Seq: seq, TsUnix: now.Unix(), Stocks: stocks, Reservations: reservations}
}

// SnapshotManager keeps numbered snapshot files in one directory.
type SnapshotManager struct {
	dir string
}

func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

// Save writes snap under its sequence number. The file appears atomically.
func (sm *SnapshotManager) Save(snap *Snapshot) error {
	if err := os.MkdirAll(sm.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir %s: %w", sm.dir, err)
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", snap.Seq, err)
	}
	data, err := json.Marshal(snapshotEnvelope{Checksum: crc32.ChecksumIEEE(body), Body: body})
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", snap.Seq, err)
	}

	final := sm.path(snap.Seq)
	tmp, err := os.CreateTemp(sm.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("stage snapshot %d: %w", snap.Seq, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("stage snapshot %d: %w", snap.Seq, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot %d: %w", snap.Seq, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage snapshot %d: %w", snap.Seq, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("publish snapshot %d: %w", snap.Seq, err)
	}

	slog.Info("💾 Stock snapshot written",
		slog.Uint64("seq", snap.Seq),
		slog.Int("stocks", len(snap.Stocks)),
		slog.Int("holds", len(snap.Reservations)),
		slog.String("file", final))
	return nil
}

// sequences returns the snapshot numbers present in the directory, newest
// first. Staging files and foreign names are ignored.
func (sm *SnapshotManager) sequences() ([]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(sm.dir, snapshotPrefix+"*"+snapshotExt))
	if err != nil {
		return nil, err
	}
	seqs := make([]uint64, 0, len(matches))
	for _, m := range matches {
		num := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), snapshotPrefix), snapshotExt)
		seq, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
	return seqs, nil
}

func (sm *SnapshotManager) path(seq uint64) string {
	return filepath.Join(sm.dir, snapshotPrefix+strconv.FormatUint(seq, 10)+snapshotExt)
}

// LoadLatest returns the highest-numbered snapshot, or nil when there is none.
func (sm *SnapshotManager) LoadLatest() (*Snapshot, error) {
	seqs, err := sm.sequences()
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, nil
	}
	snap, err := sm.load(sm.path(seqs[0]))
	if err != nil {
		return nil, err
	}
	slog.Info("📂 Stock snapshot loaded", slog.Uint64("seq", snap.Seq))
	return snap, nil
}

var errSnapshotCorrupt = errors.New("snapshot checksum mismatch")

func (sm *SnapshotManager) load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if crc32.ChecksumIEEE(env.Body) != env.Checksum {
		return nil, fmt.Errorf("%s: %w", path, errSnapshotCorrupt)
	}
	var snap Snapshot
	if err := json.Unmarshal(env.Body, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &snap, nil
}

// Cleanup deletes all but the newest keep snapshots.
func (sm *SnapshotManager) Cleanup(keep int) error {
	seqs, err := sm.sequences()
	if err != nil {
		return err
	}
	for i := keep; i < len(seqs); i++ {
		p := sm.path(seqs[i])
		if err := os.Remove(p); err != nil {
			slog.Warn("Could not prune snapshot", slog.String("file", p), slog.Any("error", err))
		}
	}
	return nil
}
