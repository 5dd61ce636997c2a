package provenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// Tracker runs the fingerprint and correlation pipeline against a store
type Tracker struct {
	store         types.Store
	fingerprinter *Fingerprinter
	log           *logrus.Entry
	now           func() time.Time
}

// NewTracker creates a tracker. A nil logger uses the logrus standard
// logger.
func NewTracker(store types.Store, fingerprinter *Fingerprinter, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{
		store:         store,
		fingerprinter: fingerprinter,
		log:           logger.WithField("component", "provenance"),
		now:           time.Now,
	}
}

// Fingerprint snapshots path and upserts it, returning the committed row
func (t *Tracker) Fingerprint(ctx context.Context, path string) (*types.Snapshot, error) {
	snap, err := t.fingerprinter.Snapshot(path)
	if err != nil {
		return nil, err
	}
	return t.save(ctx, snap)
}

// FingerprintDescriptor snapshots the file open at fd under path and
// upserts it
func (t *Tracker) FingerprintDescriptor(ctx context.Context, fd int, path string) (*types.Snapshot, error) {
	snap, err := t.fingerprinter.SnapshotDescriptor(fd, path)
	if err != nil {
		return nil, err
	}
	return t.save(ctx, snap)
}

func (t *Tracker) save(ctx context.Context, snap *types.Snapshot) (*types.Snapshot, error) {
	saved, err := t.store.UpsertSnapshot(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot for %s: %w", snap.Path, err)
	}
	return saved, nil
}

// fingerprintTransfer reads the file through fd when there is one, and
// falls back to resolving path when fd is negative
func (t *Tracker) fingerprintTransfer(ctx context.Context, path string, fd int) (*types.Snapshot, error) {
	if fd < 0 {
		return t.Fingerprint(ctx, path)
	}
	return t.FingerprintDescriptor(ctx, fd, path)
}

// ObserveRead fingerprints the file when a read of count bytes at offset
// reached size. Failures are logged, never returned.
func (t *Tracker) ObserveRead(ctx context.Context, path string, fd int, offset, count, size int64) {
	if !IsTerminal(offset, count, size) {
		return
	}
	snap, err := t.fingerprintTransfer(ctx, path, fd)
	if err != nil {
		t.report("read", path, err)
		return
	}
	t.logSnapshot("read", snap)
}

// ObserveWrite fingerprints the file when a write reached size and then
// looks for the file it was copied from
func (t *Tracker) ObserveWrite(ctx context.Context, path string, fd int, offset, count, size int64) {
	if !IsTerminal(offset, count, size) {
		return
	}
	snap, err := t.fingerprintTransfer(ctx, path, fd)
	if err != nil {
		t.report("write", path, err)
		return
	}
	t.logSnapshot("write", snap)

	if _, err := t.Correlate(ctx, snap); err != nil {
		t.report("write", path, err)
	}
}

func (t *Tracker) logSnapshot(op string, snap *types.Snapshot) {
	t.log.WithFields(logrus.Fields{
		"op":    op,
		"path":  snap.Path,
		"inode": snap.Inode,
		"size":  snap.Size,
	}).Info("Fingerprint saved")
}

// report logs a dropped pipeline. Files vanishing under us are expected
// and logged at warn; store failures are errors.
func (t *Tracker) report(op, path string, err error) {
	entry := t.log.WithFields(logrus.Fields{"op": op, "path": path}).WithError(err)
	var fpErr *FingerprintError
	if errors.As(err, &fpErr) {
		entry.Warn("Fingerprint skipped")
		return
	}
	entry.Error("Provenance update failed")
}
