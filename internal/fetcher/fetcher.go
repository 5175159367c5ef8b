// Package fetcher downloads and parses feed files: HTTP and FTP
// transport, CSV and XLSX parsing. Source clients compose these; the
// engine never touches transport directly.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote feed files.
type Fetcher interface {
	// Download fetches the URL and returns the response body. The caller
	// must close it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
