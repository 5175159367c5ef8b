package detect

import (
	"context"
	"time"

	"github.com/lsa-ts/orgsync/internal/source"
)

// Mode selects a change-detection strategy for a (source, entity) pair.
type Mode string

const (
	// ModeTimestamp filters by source modification time against the
	// incremental cursor. Used when the source exposes a reliable
	// last-modified field.
	ModeTimestamp Mode = "timestamp"

	// ModeContentHash fetches the full extract every run and captures only
	// records whose significant-field hash differs from the latest bronze
	// version. Used for periodic exports with no modification timestamps.
	ModeContentHash Mode = "content_hash"
)

// HashLookup resolves the hash stored on the most recent captured version
// of a record. The bronze store implements it.
type HashLookup interface {
	LatestHash(ctx context.Context, entityType, sourceSystem, externalID string) (string, bool, error)
}

// Detector decides whether a fetched document needs capturing.
type Detector interface {
	Mode() Mode
	ShouldCapture(ctx context.Context, doc source.Document, hash string) (bool, error)
}

// TimestampDetector includes documents modified after the cursor. Documents
// with no parseable modification time are always included: ambiguous data
// is never silently dropped.
type TimestampDetector struct {
	// Cursor is the last successful completion time for this (source,
	// entity) pair. Nil means first run or full sync: include everything.
	Cursor *time.Time
}

// Mode returns ModeTimestamp.
func (d *TimestampDetector) Mode() Mode { return ModeTimestamp }

// ShouldCapture reports whether the document is new since the cursor.
// The hash argument is ignored in timestamp mode.
func (d *TimestampDetector) ShouldCapture(_ context.Context, doc source.Document, _ string) (bool, error) {
	if d.Cursor == nil {
		return true, nil
	}
	if doc.ModifiedAt == nil {
		// Fail open.
		return true, nil
	}
	return doc.ModifiedAt.After(*d.Cursor), nil
}

// HashDetector includes documents whose significant-field hash differs from
// the latest captured version, or which have never been captured.
type HashDetector struct {
	EntityType   string
	SourceSystem string
	Store        HashLookup
}

// Mode returns ModeContentHash.
func (d *HashDetector) Mode() Mode { return ModeContentHash }

// ShouldCapture compares the precomputed hash against the stored one.
func (d *HashDetector) ShouldCapture(ctx context.Context, doc source.Document, hash string) (bool, error) {
	stored, found, err := d.Store.LatestHash(ctx, d.EntityType, d.SourceSystem, doc.ExternalID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return stored != hash, nil
}
