// Package fetch downloads content over HTTP with automatic retries and
// byte-weighted progress reporting. The embedded Python distribution is
// shipped as a zip file, so this package extracts zip archives rather than
// tarballs.
package fetch

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/beep-python/host/internal/bperr"
)

// userAgent is sent on every request so download failures are easy to spot
// in server-side logs.
const userAgent = "beep-python-host"

// ProgressFunc reports bytes copied so far out of total (total is 0 if the
// server did not send a Content-Length).
type ProgressFunc func(done, total int64)

// progressWriter wraps an io.Writer and calls fn after every chunk, giving
// the provisioner's download phase byte-weighted progress without needing
// to buffer the whole response.
type progressWriter struct {
	w     io.Writer
	fn    ProgressFunc
	total int64
	done  int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.fn != nil {
		p.fn(p.done, p.total)
	}
	return n, err
}

// File downloads a URL to outPath, reporting progress as bytes arrive and
// honoring cancellation via ctx.
func File(ctx context.Context, url, outPath string, progress ProgressFunc) error {
	resp, err := doGet(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return bperr.Wrap(bperr.KindDownloadFailed, err, "creating %s", outPath)
	}
	defer out.Close()

	pw := &progressWriter{w: out, fn: progress, total: resp.ContentLength}
	if err := copyWithContext(ctx, pw, resp.Body); err != nil {
		return err
	}
	return nil
}

// Zip downloads a zip archive from url and extracts it into dir, reporting
// download progress via progress. Extraction itself is fast enough (no
// network I/O) that it is not sub-progressed beyond the phase boundary the
// provisioner already reports.
func Zip(ctx context.Context, url, dir string, progress ProgressFunc) error {
	tmp, err := os.CreateTemp("", "beep-python-embed-*.zip")
	if err != nil {
		return bperr.Wrap(bperr.KindDownloadFailed, err, "creating temp file for %s", url)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := func() error {
		defer tmp.Close()
		resp, err := doGet(ctx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		pw := &progressWriter{w: tmp, fn: progress, total: resp.ContentLength}
		return copyWithContext(ctx, pw, resp.Body)
	}(); err != nil {
		return err
	}

	if err := unzip(tmpPath, dir); err != nil {
		return err
	}
	return nil
}

// JSON fetches a JSON payload from url and unmarshals it into v.
func JSON(ctx context.Context, url string, v any) error {
	resp, err := doGet(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return bperr.Wrap(bperr.KindDownloadFailed, err, "reading response body from %s", url)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return bperr.Wrap(bperr.KindDownloadFailed, err, "decoding response from %s", url)
	}
	return nil
}

// ExtractZip extracts an already-downloaded zip archive into dir. Exposed
// for callers that download once and then need the extraction step as a
// distinct phase (the provisioner reports it separately from the download).
func ExtractZip(archivePath, dir string) error {
	return unzip(archivePath, dir)
}

// unzip extracts a zip archive to dir, guarding against zip-slip path
// traversal by rejecting entries that resolve outside dir.
func unzip(archivePath, dir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return bperr.Wrap(bperr.KindExtractFailed, err, "opening archive %s", archivePath)
	}
	defer r.Close()

	cleanDir := filepath.Clean(dir)
	for _, f := range r.File {
		target := filepath.Join(cleanDir, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, cleanDir+string(filepath.Separator)) && target != cleanDir {
			return bperr.New(bperr.KindExtractFailed, "entry %q traverses out of %s", f.Name, dir)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return bperr.Wrap(bperr.KindExtractFailed, err, "creating directory %s", target)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return bperr.Wrap(bperr.KindExtractFailed, err, "creating directory for %s", target)
		}

		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return bperr.Wrap(bperr.KindExtractFailed, err, "opening archive entry %s", f.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return bperr.Wrap(bperr.KindExtractFailed, err, "creating %s", target)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return bperr.Wrap(bperr.KindExtractFailed, err, "writing %s", target)
	}
	return nil
}

// copyWithContext copies src to dst in fixed-size chunks, checking ctx for
// cancellation between chunks so a long-running download can be interrupted
// promptly instead of only at its end.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return bperr.New(bperr.KindCancelled, "download cancelled")
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return bperr.Wrap(bperr.KindDownloadFailed, writeErr, "writing downloaded bytes")
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return bperr.Wrap(bperr.KindDownloadFailed, readErr, "reading response body")
		}
	}
}

// doGet performs a retried HTTP GET and validates the response status.
func doGet(ctx context.Context, url string) (*http.Response, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 1 // one retry with backoff, then surfaced to the caller
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, bperr.Wrap(bperr.KindDownloadFailed, err, "building request for %s", url)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, bperr.Wrap(bperr.KindDownloadFailed, err, "requesting %s", url)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		return nil, bperr.New(bperr.KindDownloadFailed, "fetching %s returned HTTP status %d", url, resp.StatusCode)
	}
	return resp, nil
}
