package main

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chatlift/funnel-cli/internal/fetcher"
)

var pullOnly []string

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download extracts from the configured export endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("pull"); err != nil {
			return err
		}
		if len(cfg.Fetch.Endpoints) == 0 {
			return eris.New("no fetch endpoints configured")
		}
		if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
			return eris.Wrapf(err, "create data dir %s", cfg.Data.Dir)
		}

		httpf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:    cfg.Fetch.UserAgent,
			MaxRetries:   cfg.Fetch.MaxRetries,
			RateLimiters: fetcher.DefaultRateLimiters(),
		})
		ftpf := fetcher.NewFTPFetcher(fetcher.FTPOptions{
			User: cfg.Fetch.FTPUser,
			Pass: cfg.Fetch.FTPPass,
		})

		only := make(map[string]bool, len(pullOnly))
		for _, name := range pullOnly {
			only[name] = true
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for name, endpoint := range cfg.Fetch.Endpoints {
			if len(only) > 0 && !only[name] {
				continue
			}
			g.Go(func() error {
				return pullOne(gctx, httpf, ftpf, name, endpoint)
			})
		}
		return g.Wait()
	},
}

// pullOne downloads one source's extract into the data dir, named after
// the source so the loader finds it. Zip drops are expanded in place.
func pullOne(ctx context.Context, httpf *fetcher.HTTPFetcher, ftpf fetcher.Fetcher, name, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return eris.Wrapf(err, "parse endpoint for %s", name)
	}
	ext := strings.ToLower(filepath.Ext(u.Path))
	if ext == "" {
		ext = ".csv"
	}
	dest := filepath.Join(cfg.Data.Dir, name+ext)

	var n int64
	switch u.Scheme {
	case "http", "https":
		changed := false
		n, changed, err = pullHTTP(ctx, httpf, endpoint, dest)
		if err == nil && !changed {
			zap.L().Info("extract unchanged, skipping",
				zap.String("source", name),
				zap.String("endpoint", endpoint),
			)
			return nil
		}
	case "ftp":
		n, err = ftpf.DownloadToFile(ctx, endpoint, dest)
	default:
		return eris.Errorf("unsupported endpoint scheme %s for %s", u.Scheme, name)
	}
	if err != nil {
		return eris.Wrapf(err, "pull %s", name)
	}

	if ext == ".zip" {
		extracted, err := fetcher.ExtractZIP(dest, cfg.Data.Dir)
		if err != nil {
			return eris.Wrapf(err, "extract %s", name)
		}
		zap.L().Info("extract expanded",
			zap.String("source", name),
			zap.Strings("files", extracted),
		)
		if err := os.Remove(dest); err != nil {
			return eris.Wrapf(err, "remove archive for %s", name)
		}
	}

	zap.L().Info("extract pulled",
		zap.String("source", name),
		zap.String("endpoint", endpoint),
		zap.Int64("bytes", n),
	)
	return nil
}

// pullHTTP fetches over HTTP with an ETag sidecar next to the extract, so
// an export the upstream job has not regenerated is skipped rather than
// re-downloaded.
func pullHTTP(ctx context.Context, f *fetcher.HTTPFetcher, endpoint, dest string) (int64, bool, error) {
	etagPath := dest + ".etag"
	etag := ""
	if _, err := os.Stat(dest); err == nil {
		if b, err := os.ReadFile(etagPath); err == nil {
			etag = strings.TrimSpace(string(b))
		}
	}

	body, newETag, changed, err := f.DownloadIfChanged(ctx, endpoint, etag)
	if err != nil {
		return 0, false, err
	}
	if !changed {
		return 0, false, nil
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return 0, false, eris.Wrapf(err, "create %s", dest)
	}
	n, err := io.Copy(out, body)
	if err != nil {
		out.Close() //nolint:errcheck
		return n, false, eris.Wrapf(err, "write %s", dest)
	}
	if err := out.Close(); err != nil {
		return n, false, eris.Wrapf(err, "close %s", dest)
	}

	if newETag != "" {
		if err := os.WriteFile(etagPath, []byte(newETag), 0o644); err != nil {
			return n, true, eris.Wrapf(err, "write etag sidecar %s", etagPath)
		}
	} else {
		_ = os.Remove(etagPath)
	}
	return n, true, nil
}

func init() {
	pullCmd.Flags().StringSliceVar(&pullOnly, "only", nil, "pull only these sources")
	rootCmd.AddCommand(pullCmd)
}
