package provenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// Correlate looks for an earlier snapshot with the same content and
// records it as the source of dest. It returns nil when nothing matches.
func (t *Tracker) Correlate(ctx context.Context, dest *types.Snapshot) (*types.CopyEdge, error) {
	src, err := t.store.FindCandidateSource(ctx, types.SourceQuery{
		Hash:         dest.Hash,
		ExcludeInode: dest.Inode,
		Before:       dest.Mtime,
	})
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search copy source: %w", err)
	}

	edge, err := t.store.AppendCopyEdge(ctx, types.NewCopyEdge(src, dest, t.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to save copy log: %w", err)
	}

	t.log.WithFields(logrus.Fields{
		"source":            src.Path,
		"source_inode":      src.Inode,
		"destination":       dest.Path,
		"destination_inode": dest.Inode,
	}).Info("Copy detected")
	return edge, nil
}
