package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote extracts. Both the
// HTTP and FTP fetchers implement it; conditional-download support (ETag)
// is HTTP-only and lives on HTTPFetcher directly.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
