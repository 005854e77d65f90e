// Package fileops implements the file-level primitives of the ingestion
// pipeline: archive download, streaming MD5 digests and zip extraction with
// traversal defense. All functions are stateless and re-entrant; callers
// provide the HTTP client so the transport retry policy stays outside this
// package.
package fileops

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/eventmosaic/gdelt/internal/dcontext"
)

// copyBufferSize bounds the scratch buffer used for every streaming copy so
// memory use stays independent of archive size.
const copyBufferSize = 8 * 1024

// TraversalError reports a zip entry whose name resolves outside the
// extraction root. The archive carrying the entry is rejected wholesale.
type TraversalError struct {
	Entry     string
	TargetDir string
}

func (err TraversalError) Error() string {
	return fmt.Sprintf("zip entry %q escapes extraction root %q", err.Entry, err.TargetDir)
}

// TransportError reports a failed download, either a non-2xx response or an
// I/O fault while streaming the body.
type TransportError struct {
	URL string
	Err error
}

func (err TransportError) Error() string {
	return fmt.Sprintf("download %s: %v", err.URL, err.Err)
}

func (err TransportError) Unwrap() error {
	return err.Err
}

// Download fetches url into targetPath, creating the parent directory when
// missing and truncating any existing file. The write is a streaming copy;
// redirects and retries are the client's concern. Returns the path written.
func Download(ctx context.Context, client *http.Client, url, targetPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", TransportError{URL: url, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", TransportError{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(targetPath)
	if err != nil {
		return "", err
	}

	buf := make([]byte, copyBufferSize)
	_, err = io.CopyBuffer(f, resp.Body, buf)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// Leave no partial file behind.
		if rerr := os.Remove(targetPath); rerr != nil {
			dcontext.GetLogger(ctx).Warnf("removing partial download %s: %v", targetPath, rerr)
		}
		return "", TransportError{URL: url, Err: err}
	}

	return targetPath, nil
}

// MD5 returns the lowercase hex MD5 digest of the file at path, computed as
// a streaming read.
func MD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ExtractZip unpacks the archive at zipPath under targetDir and returns the
// absolute paths of the files written, in archive order. Directory entries
// are created but not returned. Any entry that resolves outside targetDir
// fails the whole extraction with a TraversalError before a single byte of
// it is written.
func ExtractZip(zipPath, targetDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, entry := range r.File {
		dest := filepath.Join(root, filepath.FromSlash(entry.Name))
		if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
			return nil, TraversalError{Entry: entry.Name, TargetDir: targetDir}
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, err
		}

		if err := extractMember(entry, dest); err != nil {
			return nil, err
		}
		written = append(written, dest)
	}

	return written, nil
}

func extractMember(entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}

	buf := make([]byte, copyBufferSize)
	_, err = io.CopyBuffer(f, rc, buf)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// EnsureDir creates path and any missing parents. It is idempotent; an
// existing directory is fine, an existing non-directory is an error.
func EnsureDir(path string) (string, error) {
	fi, err := os.Stat(path)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return "", fmt.Errorf("%s exists and is not a directory", path)
		}
		return path, nil
	case os.IsNotExist(err):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", err
		}
		return path, nil
	default:
		return "", err
	}
}
