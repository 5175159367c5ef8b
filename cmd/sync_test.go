package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsa-ts/orgsync/internal/config"
	"github.com/lsa-ts/orgsync/internal/ingest"
	"github.com/lsa-ts/orgsync/internal/runlog"
	"github.com/lsa-ts/orgsync/internal/source/sheet"
	"github.com/lsa-ts/orgsync/internal/source/tdx"
)

func flagCmd(value string) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("list", value, "")
	return cmd
}

func TestCSVFlag(t *testing.T) {
	assert.Nil(t, csvFlag(flagCmd(""), "list"))
	assert.Equal(t, []string{"a", "b"}, csvFlag(flagCmd("a,b"), "list"))
	assert.Equal(t, []string{"a", "b"}, csvFlag(flagCmd(" a , b ,"), "list"))
}

func TestResolveSource(t *testing.T) {
	tdxClient := tdx.New(config.TDXConfig{BaseURL: "https://tdx.example.edu/api", AppID: 48})
	sheetSrc := sheet.New(config.SheetConfig{})

	for _, entityName := range []string{"department", "person", "asset", "computer"} {
		src, ok := resolveSource(tdxClient, sheetSrc, entityName, "tdx")
		require.True(t, ok, entityName)
		assert.Equal(t, "tdx", src.Name())
	}

	src, ok := resolveSource(tdxClient, sheetSrc, "labfund", "sheet")
	require.True(t, ok)
	assert.Equal(t, "sheet", src.Name())

	// Feeds delivered out of process have no client.
	for _, name := range []string{"hr", "mcomm", "ad"} {
		_, ok := resolveSource(tdxClient, sheetSrc, "person", name)
		assert.False(t, ok, name)
	}

	// The group entity has no tdx view.
	_, ok = resolveSource(tdxClient, sheetSrc, "group", "tdx")
	assert.False(t, ok)
}

func TestFormatSyncSummary(t *testing.T) {
	var buf bytes.Buffer
	formatSyncSummary(&buf, &ingest.Summary{
		RunID:        "run-1",
		SourceSystem: "tdx",
		EntityType:   "department",
		Fetched:      10,
		Captured:     4,
		Counts:       runlog.Counts{Processed: 10, Created: 3, Updated: 1, Skipped: 6},
		ErrorCount:   1,
		Errors:       []string{"department/tdx[152]: missing dept id"},
	})

	out := buf.String()
	assert.Contains(t, out, "department/tdx")
	assert.Contains(t, out, "run=run-1")
	assert.Contains(t, out, "fetched:")
	assert.Contains(t, out, "missing dept id")
	assert.NotContains(t, out, "FAILED")
}

func TestFormatSyncSummaryFailed(t *testing.T) {
	var buf bytes.Buffer
	formatSyncSummary(&buf, &ingest.Summary{
		RunID:        "run-2",
		SourceSystem: "sheet",
		EntityType:   "labfund",
		Failed:       true,
		DryRun:       true,
	})

	out := buf.String()
	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "FAILED")
}
