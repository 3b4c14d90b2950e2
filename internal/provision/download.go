package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/kokoro-deploy/internal/fileutil"
)

// Static download errors.
var (
	ErrUnexpectedStatus = errors.New("unexpected http status")
	ErrChecksumMismatch = errors.New("sha256 checksum mismatch")
)

// HTTPFetcher implements core.Fetcher over HTTP(S).
//
// The client carries no overall timeout: model artifacts run to hundreds of
// megabytes and are bounded only by the caller's context.
type HTTPFetcher struct {
	client *http.Client
	log    *logger.Logger
}

// NewHTTPFetcher creates a fetcher using the default HTTP transport.
func NewHTTPFetcher(log *logger.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{},
		log:    log,
	}
}

// Fetch downloads url into dest. The body is written to a temporary file in
// the destination directory, verified against the optional sha256 digest, and
// moved into place with a rename, so dest never holds partial content.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, dest, sum string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	response, err := f.client.Do(request)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}

	defer func() {
		closeErr := response.Body.Close()
		if closeErr != nil {
			f.log.Warn("Failed to close response body for %s: %v", url, closeErr)
		}
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s from %s", ErrUnexpectedStatus, response.Status, url)
	}

	err = fileutil.EnsureDir(filepath.Dir(dest))
	if err != nil {
		return err
	}

	return f.writeAtomically(dest, url, sum, response.Body)
}

// writeAtomically streams body into a temp file next to dest, verifies the
// digest, and renames the temp file into place.
func (f *HTTPFetcher) writeAtomically(dest, url, sum string, body io.Reader) error {
	tempFile, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp download file: %w", err)
	}

	removeTemp := func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && !os.IsNotExist(removeErr) {
			f.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}

	hasher := sha256.New()

	written, copyErr := io.Copy(io.MultiWriter(tempFile, hasher), body)

	closeErr := tempFile.Close()
	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		removeTemp()

		return fmt.Errorf("failed to write download for %s: %w", url, copyErr)
	}

	if sum != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, sum) {
			removeTemp()

			return fmt.Errorf("%w: got %s, want %s for %s", ErrChecksumMismatch, actual, sum, url)
		}
	}

	err = os.Rename(tempFile.Name(), dest)
	if err != nil {
		removeTemp()

		return fmt.Errorf("failed to move download into place at %s: %w", dest, err)
	}

	f.log.Info("Downloaded %s (%s) to %s", url, fileutil.FormatFileSize(written), dest)

	return nil
}

// HashFile returns the hex sha256 digest of the file at path.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}

	hasher := sha256.New()

	_, copyErr := io.Copy(hasher, file)
	closeErr := file.Close()

	if copyErr != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, copyErr)
	}

	if closeErr != nil {
		return "", fmt.Errorf("failed to close %s after hashing: %w", path, closeErr)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
