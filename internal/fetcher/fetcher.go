// Package fetcher retrieves invoice batch files from HTTP and FTP sources
// and parses CSV and XLSX payloads.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads a remote invoice batch file.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
