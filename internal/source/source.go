// Package source defines the boundary between the sync engine and the
// systems it ingests from. Concrete clients (the tdx REST API, campus LDAP
// directories, HR feeds) live behind the Source interface; the engine only
// ever sees Documents.
package source

import (
	"context"
	"time"
)

// Document is one record as fetched from a source system, prior to any
// typed extraction. Payload is the only place in the engine where
// loosely-typed JSON is allowed to exist.
type Document struct {
	// ExternalID is the source system's stable identifier for this record.
	ExternalID string

	// ModifiedAt is the source's last-modified timestamp. Nil when the
	// source does not expose one, or when the value could not be parsed.
	// The change detector treats nil as "include" (fail-open).
	ModifiedAt *time.Time

	// Payload is the raw semi-structured document.
	Payload map[string]any
}

// Source is the read interface each integrated system implements.
type Source interface {
	// Name returns the source system identifier (e.g., "tdx", "hr", "mcomm").
	Name() string

	// FetchByKeys fetches the documents for the given external keys. The
	// caller chunks key sets; implementations may assume len(keys) is at
	// most the source's per-call limit.
	FetchByKeys(ctx context.Context, keys []string) ([]Document, error)

	// FetchChangedSince fetches documents modified after the cursor.
	// A nil cursor means fetch everything.
	FetchChangedSince(ctx context.Context, since *time.Time) ([]Document, error)

	// FetchAll fetches the full extract. Used by content-hash change
	// detection, where the source has no reliable modified timestamp.
	FetchAll(ctx context.Context) ([]Document, error)
}

// Lister is implemented by sources that can enumerate their full key set
// without fetching full documents, enabling chunked batch fetch.
type Lister interface {
	ListKeys(ctx context.Context) ([]string, error)
}
