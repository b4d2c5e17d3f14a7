package fetcher

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// FetchError wraps any failure to acquire a repository. Runners record it on
// the task instead of propagating it.
type FetchError struct {
	RepoURL string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch repository %s: %s", e.RepoURL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ArchiveFetcher downloads a repository as a tar.gz archive of its default
// branch and unpacks it into memory. GitHub and compatible forges serve this
// at <repo>/archive/HEAD.tar.gz, which keeps the server free of a git binary.
type ArchiveFetcher struct {
	client   *http.Client
	maxBytes int64
}

const defaultMaxArchiveBytes = 32 << 20

func NewArchiveFetcher(client *http.Client, maxBytes int64) *ArchiveFetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxArchiveBytes
	}
	return &ArchiveFetcher{client: client, maxBytes: maxBytes}
}

// ValidateRepoURL rejects locators that are not plain http(s) URLs with a
// host and repository path.
func ValidateRepoURL(repoURL string) error {
	u, err := url.Parse(repoURL)
	if err != nil {
		return fmt.Errorf("malformed repository url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("repository url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("repository url is missing a host")
	}
	if strings.Trim(u.Path, "/") == "" {
		return errors.New("repository url is missing a repository path")
	}
	return nil
}

func archiveURL(repoURL string) string {
	return strings.TrimSuffix(repoURL, "/") + "/archive/HEAD.tar.gz"
}

func (f *ArchiveFetcher) Fetch(ctx context.Context, repoURL string) (*FileTree, error) {
	if err := ValidateRepoURL(repoURL); err != nil {
		return nil, &FetchError{RepoURL: repoURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL(repoURL), nil)
	if err != nil {
		return nil, &FetchError{RepoURL: repoURL, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{RepoURL: repoURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{RepoURL: repoURL, Err: fmt.Errorf("archive download returned status %d", resp.StatusCode)}
	}

	tree, err := f.unpack(resp.Body)
	if err != nil {
		return nil, &FetchError{RepoURL: repoURL, Err: err}
	}
	return tree, nil
}

// unpack reads a tar.gz stream into a FileTree, stripping the leading
// "<repo>-<ref>/" component, skipping .git contents and binary files, and
// enforcing the uncompressed size cap.
func (f *ArchiveFetcher) unpack(r io.Reader) (*FileTree, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid gzip archive: %w", err)
	}
	defer gz.Close()

	tree := NewFileTree()
	tr := tar.NewReader(gz)
	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid tar archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := stripArchiveRoot(hdr.Name)
		if name == "" || strings.HasPrefix(name, ".git/") {
			continue
		}

		total += hdr.Size
		if total > f.maxBytes {
			return nil, fmt.Errorf("repository archive exceeds %d bytes", f.maxBytes)
		}
		content, err := io.ReadAll(io.LimitReader(tr, f.maxBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from archive: %w", name, err)
		}
		if !utf8.Valid(content) {
			continue
		}
		tree.Files[name] = string(content)
	}
	if len(tree.Files) == 0 {
		return nil, errors.New("repository archive contained no readable files")
	}
	return tree, nil
}

// stripArchiveRoot drops the single top-level directory GitHub archives wrap
// the tree in.
func stripArchiveRoot(name string) string {
	name = strings.TrimPrefix(name, "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}
