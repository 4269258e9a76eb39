package dataset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
)

// DefaultDownloadTimeout bounds a dataset download
const DefaultDownloadTimeout = 10 * time.Minute

// Fetcher downloads the dataset once and reuses the local copy afterwards
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher. A nil client gets DefaultDownloadTimeout.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultDownloadTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, logger: logger}
}

// Fetch returns dest, downloading url into it first when dest does not exist.
// The download lands in a temp file that replaces dest only when complete.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) (string, error) {
	if _, err := os.Stat(dest); err == nil {
		f.logger.Info("using cached data file", "path", dest)
		return dest, nil
	}
	if url == "" {
		return "", fmt.Errorf("%w: %s does not exist", ErrNoDataset, dest)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	f.logger.Info("downloading data file", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download dataset: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download dataset: unexpected status %d", resp.StatusCode)
	}

	pending, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0644))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	n, err := io.Copy(pending, resp.Body)
	if err != nil {
		return "", fmt.Errorf("download dataset: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("save dataset: %w", err)
	}

	f.logger.Info("data file downloaded", "path", dest, "size", humanize.Bytes(uint64(n)))
	return dest, nil
}
