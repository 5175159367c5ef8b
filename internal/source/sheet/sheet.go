// Package sheet reads the periodic finance spreadsheet export as a
// source. The export is a local file, an http(s) or ftp URL, or the
// newest drop on the finance FTP site; rows become documents keyed by
// shortcode. The sheet has no modification timestamps, so the entity
// runs in content-hash mode and re-loading an unchanged export captures
// nothing.
package sheet

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lsa-ts/orgsync/internal/config"
	"github.com/lsa-ts/orgsync/internal/extract"
	"github.com/lsa-ts/orgsync/internal/fetcher"
	"github.com/lsa-ts/orgsync/internal/source"
)

// keyColumn is the sheet column carrying the business key.
const keyColumn = "Shortcode"

// Source reads lab funding rows from the export.
type Source struct {
	cfg  config.SheetConfig
	ftp  *fetcher.FTPFetcher
	http *fetcher.HTTPFetcher
	log  *zap.Logger
}

// New creates a sheet source from config.
func New(cfg config.SheetConfig) *Source {
	return &Source{
		cfg: cfg,
		ftp: fetcher.NewFTPFetcher(fetcher.FTPOptions{
			User:     cfg.FTPUser,
			Password: cfg.FTPPass,
		}),
		http: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
		log:  zap.L().With(zap.String("component", "sheet")),
	}
}

// Name returns "sheet".
func (s *Source) Name() string { return "sheet" }

// FetchAll reads every row of the export.
func (s *Source) FetchAll(ctx context.Context) ([]source.Document, error) {
	path, cleanup, err := s.resolvePath(ctx)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	header, rows, err := s.readRows(ctx, path)
	if err != nil {
		return nil, err
	}

	keyIdx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), keyColumn) {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, eris.Errorf("sheet: no %q column in %s", keyColumn, path)
	}

	docs := make([]source.Document, 0, len(rows))
	for _, row := range rows {
		if keyIdx >= len(row) {
			continue
		}
		key := extract.StringValue(extract.NormString(row[keyIdx]))
		if key == "" {
			// Blank key rows are subtotals and spacer lines.
			continue
		}

		payload := make(map[string]any, len(header))
		for i, h := range header {
			name := strings.TrimSpace(h)
			if name == "" || i >= len(row) {
				continue
			}
			payload[name] = row[i]
		}

		docs = append(docs, source.Document{
			ExternalID: key,
			Payload:    payload,
		})
	}

	s.log.Info("read export", zap.String("path", path), zap.Int("rows", len(docs)))
	return docs, nil
}

// FetchChangedSince is identical to FetchAll; the export carries no
// modification times and change detection happens by content hash.
func (s *Source) FetchChangedSince(ctx context.Context, _ *time.Time) ([]source.Document, error) {
	return s.FetchAll(ctx)
}

// FetchByKeys filters the full export down to the given keys.
func (s *Source) FetchByKeys(ctx context.Context, keys []string) ([]source.Document, error) {
	all, err := s.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []source.Document
	for _, doc := range all {
		if want[doc.ExternalID] {
			out = append(out, doc)
		}
	}
	return out, nil
}

// resolvePath returns a local path to the export. A configured path may
// be a plain file or a remote URL; with no path at all, the newest drop
// on the finance FTP site is fetched.
func (s *Source) resolvePath(ctx context.Context) (string, func(), error) {
	if s.cfg.Path != "" {
		if f, ok := s.remoteFetcher(s.cfg.Path); ok {
			return s.download(ctx, f, s.cfg.Path)
		}
		return s.cfg.Path, nil, nil
	}
	if s.cfg.FTPHost == "" {
		return "", nil, eris.New("sheet: neither path nor ftp_host configured")
	}

	remote, err := s.ftp.LatestMatching(ctx, s.cfg.FTPHost, s.cfg.FTPDir, ".xlsx")
	if err != nil {
		return "", nil, err
	}
	return s.download(ctx, s.ftp, "ftp://"+s.cfg.FTPHost+remote)
}

// remoteFetcher picks the transport serving a URL scheme. Local paths
// return false.
func (s *Source) remoteFetcher(path string) (fetcher.Fetcher, bool) {
	switch {
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return s.http, true
	case strings.HasPrefix(path, "ftp://"):
		return s.ftp, true
	}
	return nil, false
}

// download pulls a remote export into a temp file, keeping the extension
// so readRows can dispatch on it.
func (s *Source) download(ctx context.Context, f fetcher.Fetcher, url string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "orgsync-sheet-*"+filepath.Ext(url))
	if err != nil {
		return "", nil, eris.Wrap(err, "sheet: create temp file")
	}
	_ = tmp.Close()

	if _, err := f.DownloadToFile(ctx, url, tmp.Name()); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}

	name := tmp.Name()
	return name, func() { _ = os.Remove(name) }, nil
}

// readRows dispatches on file extension; the finance team exports either
// a workbook or a plain CSV depending on who ran the report.
func (s *Source) readRows(ctx context.Context, path string) ([]string, [][]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "sheet: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{HasHeader: true, TrimSpace: true})
	}

	return fetcher.ReadXLSX(path, fetcher.XLSXOptions{
		SheetName: s.cfg.SheetName,
		SkipRows:  s.cfg.SkipRows,
	})
}
