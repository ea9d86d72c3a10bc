// Package fetcher implements the archive fetcher/extractor described in
// spec.md §4.1 (component C1): download a URL to a scratch file, then
// unpack it into a destination directory, rejecting any entry whose
// normalized path would escape that directory.
//
// The extraction logic is grounded on the teacher's packages.Unzip
// (ZipSlip guard, directory creation), extended to tar/tar.gz the way the
// original Python agent dispatched on Content-Type
// (application/zip vs application/x-gtar).
package fetcher

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smartmob-project/smartmob-agent/internal/apierr"
)

// DefaultTimeout is the implementation-defined fetch ceiling from
// spec.md §5 ("Timeouts").
const DefaultTimeout = 5 * time.Minute

// Fetch downloads the resource at url into a temp file inside destDir,
// extracts it into destDir, then removes the temp file. destDir must be a
// fresh, empty directory; the caller guarantees freshness (spec.md §4.1).
func Fetch(ctx context.Context, url, destDir string) error {
	archivePath, err := Download(ctx, url, destDir)
	if err != nil {
		return err
	}
	defer os.Remove(archivePath.Path)
	return Extract(archivePath, destDir)
}

// Archive names the downloaded scratch file and what Content-Type (or
// URL-extension fallback) it was served with, so Extract can pick a
// decoder without re-touching the network.
type Archive struct {
	Path        string
	URL         string
	ContentType string
}

// Download fetches url into a temp file under destDir, applying
// spec.md §5's fetch timeout ceiling. It does not extract anything.
func Download(ctx context.Context, url, destDir string) (Archive, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Archive{}, apierr.Fetch(apierr.FetchCategoryIO, "failed to create destination directory", err)
	}

	path, contentType, err := download(ctx, url, destDir)
	if err != nil {
		return Archive{}, err
	}
	return Archive{Path: path, URL: url, ContentType: contentType}, nil
}

// Extract unpacks a previously downloaded Archive into destDir, rejecting
// any entry that would escape destDir.
func Extract(archive Archive, destDir string) error {
	format, err := detectFormat(archive.URL, archive.ContentType)
	if err != nil {
		return err
	}

	switch format {
	case formatZip:
		return extractZip(archive.Path, destDir)
	case formatTar:
		return extractTar(archive.Path, destDir, false)
	case formatTarGz:
		return extractTar(archive.Path, destDir, true)
	default:
		return apierr.Fetch(apierr.FetchCategoryArchiveFormat, fmt.Sprintf("unrecognized archive format for %q", archive.URL), nil)
	}
}

func download(ctx context.Context, url, destDir string) (path string, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", apierr.Fetch(apierr.FetchCategoryNetwork, "failed to build request", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", apierr.Fetch(apierr.FetchCategoryTimeout, "fetch exceeded deadline", err)
		}
		return "", "", apierr.Fetch(apierr.FetchCategoryNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", apierr.Fetch(apierr.FetchCategoryHTTPStatus, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	archiveFile, err := os.CreateTemp(destDir, "archive-*.download")
	if err != nil {
		return "", "", apierr.Fetch(apierr.FetchCategoryIO, "failed to create scratch file", err)
	}
	defer archiveFile.Close()

	if _, err := io.Copy(archiveFile, resp.Body); err != nil {
		os.Remove(archiveFile.Name())
		if ctx.Err() != nil {
			return "", "", apierr.Fetch(apierr.FetchCategoryTimeout, "fetch exceeded deadline", err)
		}
		return "", "", apierr.Fetch(apierr.FetchCategoryIO, "failed to write archive to disk", err)
	}

	return archiveFile.Name(), resp.Header.Get("Content-Type"), nil
}

type archiveFormat int

const (
	formatUnknown archiveFormat = iota
	formatZip
	formatTar
	formatTarGz
)

func detectFormat(url, contentType string) (archiveFormat, error) {
	switch contentType {
	case "application/zip":
		return formatZip, nil
	case "application/x-gtar", "application/gzip", "application/x-gzip":
		return formatTarGz, nil
	case "application/x-tar":
		return formatTar, nil
	}
	// Fall back to the URL's extension when the server didn't (or
	// couldn't) set a useful Content-Type.
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return formatZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return formatTarGz, nil
	case strings.HasSuffix(lower, ".tar"):
		return formatTar, nil
	}
	return formatUnknown, apierr.Fetch(apierr.FetchCategoryArchiveFormat, fmt.Sprintf("could not determine archive format (content-type %q)", contentType), nil)
}

// safeJoin joins base and name, rejecting any result that escapes base —
// the path-traversal guard spec.md §4.1 requires, grounded on the
// teacher's ZipSlip check in packages.Unzip.
func safeJoin(base, name string) (string, error) {
	cleanedBase := filepath.Clean(base)
	target := filepath.Join(cleanedBase, name)
	if target != cleanedBase && !strings.HasPrefix(target, cleanedBase+string(os.PathSeparator)) {
		return "", apierr.Fetch(apierr.FetchCategoryPathEscape, fmt.Sprintf("archive entry %q escapes destination", name), nil)
	}
	return target, nil
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return apierr.Fetch(apierr.FetchCategoryArchiveFormat, "failed to open zip archive", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apierr.Fetch(apierr.FetchCategoryIO, "failed to create directory", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return apierr.Fetch(apierr.FetchCategoryIO, "failed to create parent directory", err)
		}
		if err := extractZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return apierr.Fetch(apierr.FetchCategoryArchiveFormat, "failed to open archive entry", err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return apierr.Fetch(apierr.FetchCategoryIO, "failed to create extracted file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return apierr.Fetch(apierr.FetchCategoryIO, "failed to write extracted file", err)
	}
	return nil
}

func extractTar(archivePath, destDir string, gzipped bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return apierr.Fetch(apierr.FetchCategoryIO, "failed to open archive", err)
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return apierr.Fetch(apierr.FetchCategoryArchiveFormat, "failed to open gzip stream", err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apierr.Fetch(apierr.FetchCategoryArchiveFormat, "failed to read tar entry", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apierr.Fetch(apierr.FetchCategoryIO, "failed to create directory", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return apierr.Fetch(apierr.FetchCategoryIO, "failed to create parent directory", err)
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return apierr.Fetch(apierr.FetchCategoryIO, "failed to create extracted file", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return apierr.Fetch(apierr.FetchCategoryIO, "failed to write extracted file", err)
			}
			out.Close()
		default:
			// Symlinks, devices, etc. are skipped; not a supported
			// payload for a process archive.
		}
	}
}
