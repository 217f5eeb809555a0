// Package snapshot exports every persisted cart record to a directory and
// imports such an export back into a store.
//
// Layout:
//
//	<dir>/<snapshotID>/carts.json   key -> record
//	<dir>/manifest.latest.json      points at the newest export
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/kv"
	"cartsync/internal/logger"
	"cartsync/internal/session"
)

const cartsFile = "carts.json"

var ErrNoSnapshot = errors.New("no snapshot")

type Exporter struct {
	baseDir string
	pub     Publisher
	log     *zap.Logger
	now     func() time.Time
}

// NewExporter writes snapshots under baseDir. The manifest always goes to
// baseDir; extra publishers (Kafka) are appended after it.
func NewExporter(baseDir string, log *zap.Logger, extra ...Publisher) *Exporter {
	pubs := append([]Publisher{NewFilesystemManifest(baseDir)}, extra...)
	return &Exporter{
		baseDir: baseDir,
		pub:     NewMultiPublisher(pubs...),
		log:     logger.OrNop(log),
		now:     time.Now,
	}
}

// NewSnapshotID returns a sortable id: UTC timestamp plus a random suffix.
func NewSnapshotID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// Export dumps all per-identity cart records of st. Records that no longer
// decode are skipped and counted in the manifest.
func (e *Exporter) Export(ctx context.Context, st kv.Store) (Manifest, error) {
	now := e.now()
	id := NewSnapshotID(now)
	dump := make(map[string]cart.Record)
	skipped := 0
	err := st.Range(ctx, session.SessionKeyPrefix, func(key, value string) error {
		if !session.IsSessionKey(key) {
			return nil
		}
		rec, err := session.DecodeRecord(value)
		if err != nil {
			skipped++
			e.log.Warn("skipping unreadable cart", zap.String("key", key), zap.Error(err))
			return nil
		}
		if rec.Items == nil {
			rec.Items = []cart.Line{}
		}
		dump[key] = rec
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("range carts: %w", err)
	}

	dir := filepath.Join(e.baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("mkdir: %w", err)
	}
	out, err := os.Create(filepath.Join(dir, cartsFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("create: %w", err)
	}
	defer out.Close()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		return Manifest{}, fmt.Errorf("encode: %w", err)
	}
	if err := out.Sync(); err != nil {
		return Manifest{}, fmt.Errorf("sync: %w", err)
	}

	m := Manifest{SnapshotID: id, Carts: len(dump), Skipped: skipped, CreatedAtEpochSecond: now.UTC().Unix()}
	if err := e.pub.PublishLatest(m); err != nil {
		return m, fmt.Errorf("publish manifest: %w", err)
	}
	e.log.Info("snapshot written", zap.String("snapshot_id", id), zap.Int("carts", len(dump)), zap.Int("skipped", skipped))
	return m, nil
}

type ImportResult struct {
	SnapshotID string
	Imported   int
	Keys       []string
	Duration   time.Duration
}

// Import writes the records of snapshotID (the latest when empty) into st.
// Existing records with the same key are overwritten; other keys are left
// alone. Loaded records go through cart.Aggregate.Load so imported totals
// always match their lines.
func Import(ctx context.Context, baseDir, snapshotID string, st kv.Store) (ImportResult, error) {
	start := time.Now()
	if snapshotID == "" {
		m, err := NewFilesystemManifest(baseDir).ReadLatest()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return ImportResult{}, ErrNoSnapshot
			}
			return ImportResult{}, err
		}
		snapshotID = m.SnapshotID
	}
	data, err := os.ReadFile(filepath.Join(baseDir, snapshotID, cartsFile))
	if err != nil {
		return ImportResult{}, fmt.Errorf("read snapshot %s: %w", snapshotID, err)
	}
	var dump map[string]cart.Record
	if err := json.Unmarshal(data, &dump); err != nil {
		return ImportResult{}, fmt.Errorf("unmarshal snapshot %s: %w", snapshotID, err)
	}

	keys := make([]string, 0, len(dump))
	for k := range dump {
		if session.IsSessionKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	store := session.NewCartStore(st)
	for _, k := range keys {
		agg := cart.New()
		agg.Load(dump[k])
		id := session.Identity{ID: k[len(session.SessionKeyPrefix):]}
		if err := store.Save(ctx, id, agg.Record()); err != nil {
			return ImportResult{}, fmt.Errorf("import %s: %w", k, err)
		}
	}
	return ImportResult{SnapshotID: snapshotID, Imported: len(keys), Keys: keys, Duration: time.Since(start)}, nil
}
