// Package entity declares the integrated entity types. Each declaration
// binds the sources that feed the entity, the change-detection mode per
// source, the extraction that projects raw documents into typed fields,
// and the merge spec the consolidation engine interprets. Adding an
// entity type is one new declaration file plus a Register call.
package entity

import (
	"github.com/rotisserie/eris"

	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/detect"
	"github.com/lsa-ts/orgsync/internal/source"
)

// ExtractFunc projects one raw document into typed per-source records.
// Most sources yield exactly one record per document; the HR feed yields
// one per employment row. Hash and RawID are filled in by the engine
// after bronze capture, never by the extractor.
type ExtractFunc func(doc source.Document) ([]consolidate.SourceRecord, error)

// SourceBinding ties one source system to an entity type.
type SourceBinding struct {
	// Source is the source system name ("tdx", "hr", "mcomm", "ad", "sheet").
	Source string

	// Mode selects change detection for this (source, entity) pair.
	Mode detect.Mode

	// SignificantFields are the raw payload fields covered by the
	// content hash. Volatile fields (fetch timestamps, ETags) are left
	// out so they never trigger a capture.
	SignificantFields []string

	// Extract projects a raw document into typed records.
	Extract ExtractFunc
}

// Declaration is the full integration declaration for one entity type.
type Declaration struct {
	// Name is the entity type ("person", "department", ...).
	Name string

	// Sources, in declared order. The merge consults them by name, so
	// this order carries no semantic weight beyond display.
	Sources []SourceBinding

	// Merge is the consolidation spec interpreted by the generic engine.
	Merge consolidate.Spec
}

// Binding returns the source binding for the named source system.
func (d *Declaration) Binding(sourceName string) (SourceBinding, error) {
	for _, b := range d.Sources {
		if b.Source == sourceName {
			return b, nil
		}
	}
	return SourceBinding{}, eris.Errorf("entity: %s has no source %q", d.Name, sourceName)
}

// SourceNames returns the declared source system names in order.
func (d *Declaration) SourceNames() []string {
	names := make([]string, len(d.Sources))
	for i, b := range d.Sources {
		names[i] = b.Source
	}
	return names
}
