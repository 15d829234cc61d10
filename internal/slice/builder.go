// Package slice implements deterministic slice construction around an
// anchor record under a resolved policy.
package slice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/slicegate/internal/model"
	"github.com/rcliao/slicegate/internal/policy"
	"github.com/rcliao/slicegate/internal/store"
)

// ErrAnchorNotFound reports a missing anchor record.
var ErrAnchorNotFound = errors.New("anchor not found")

// Builder constructs slices from the record store. Builders are
// stateless; one instance serves all requests concurrently.
type Builder struct {
	records store.RecordReader
}

// NewBuilder creates a Builder over the given record reader.
func NewBuilder(records store.RecordReader) *Builder {
	return &Builder{records: records}
}

// Build computes the slice for anchorID under pol. Given the same
// anchor, policy version, and store state, the resulting record id
// sequence is identical across invocations: candidate ordering is
// total (timestamp or salience, with id as the final tiebreak) and no
// step consults wall-clock time or randomness.
func (b *Builder) Build(ctx context.Context, anchorID string, pol *policy.Policy) (*model.Slice, error) {
	anchor, err := b.records.GetRecord(ctx, anchorID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAnchorNotFound, anchorID)
		}
		return nil, err
	}

	var from, to time.Time
	if pol.MaxWindow > 0 {
		from = anchor.Timestamp.Add(-pol.MaxWindow)
		to = anchor.Timestamp.Add(pol.MaxWindow)
	}

	candidates, err := b.records.GetNeighbors(ctx, anchor.ThreadID, from, to)
	if err != nil {
		return nil, err
	}

	timeLimited := false
	if pol.MaxWindow > 0 {
		total, err := b.records.CountThread(ctx, anchor.ThreadID)
		if err != nil {
			return nil, err
		}
		timeLimited = total > len(candidates)
	}

	if pol.FollowLinks {
		linked, err := b.records.GetLinked(ctx, anchor.ID)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			seen[c.ID] = true
		}
		for _, l := range linked {
			if seen[l.ID] {
				continue
			}
			if pol.MaxWindow > 0 && (l.Timestamp.Before(from) || l.Timestamp.After(to)) {
				timeLimited = true
				continue
			}
			candidates = append(candidates, l)
			seen[l.ID] = true
		}
	}

	// Salience and predicate filters. The anchor is exempt from both:
	// the slice is defined around it, so it is admissible by fiat.
	salienceLimited := false
	kept := candidates[:0]
	for _, c := range candidates {
		if c.ID == anchor.ID {
			kept = append(kept, c)
			continue
		}
		if c.Salience < pol.MinSalience {
			salienceLimited = true
			continue
		}
		if !pol.Match(&c) {
			continue
		}
		kept = append(kept, c)
	}

	switch pol.Ordering {
	case model.OrderingSalience:
		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].Salience != kept[j].Salience {
				return kept[i].Salience > kept[j].Salience
			}
			if !kept[i].Timestamp.Equal(kept[j].Timestamp) {
				return kept[i].Timestamp.Before(kept[j].Timestamp)
			}
			return kept[i].ID < kept[j].ID
		})
	default: // chronological
		sort.SliceStable(kept, func(i, j int) bool {
			if !kept[i].Timestamp.Equal(kept[j].Timestamp) {
				return kept[i].Timestamp.Before(kept[j].Timestamp)
			}
			return kept[i].ID < kept[j].ID
		})
	}

	widthLimited := false
	if len(kept) > pol.MaxWidth {
		widthLimited = true
		anchorIdx := -1
		for i, c := range kept {
			if c.ID == anchor.ID {
				anchorIdx = i
				break
			}
		}
		if anchorIdx < pol.MaxWidth {
			kept = kept[:pol.MaxWidth]
		} else {
			// The anchor would be cut; reserve the last slot for it.
			// Appending preserves the ordering rule since the anchor
			// sorts after every retained candidate.
			anchorRec := kept[anchorIdx]
			kept = append(kept[:pol.MaxWidth-1], anchorRec)
		}
	}

	ids := make([]string, len(kept))
	for i, c := range kept {
		ids[i] = c.ID
	}

	var boundary []string
	if widthLimited {
		boundary = append(boundary, model.BoundaryWidthLimited)
	}
	if timeLimited {
		boundary = append(boundary, model.BoundaryTimeLimited)
	}
	if salienceLimited {
		boundary = append(boundary, model.BoundarySalienceLimited)
	}
	if len(boundary) == 0 {
		boundary = []string{model.BoundaryExhausted}
	}

	return &model.Slice{
		AnchorID:      anchor.ID,
		PolicyID:      pol.ID,
		PolicyVersion: pol.Version,
		RecordIDs:     ids,
		Boundary:      boundary,
		Digest:        Digest(pol.ID, pol.Version, anchor.ID, ids),
	}, nil
}
