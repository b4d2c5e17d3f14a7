package fetcher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tarGz builds an in-memory archive the way GitHub serves one: every entry
// lives under a single "<repo>-<ref>/" root directory.
func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "repo-HEAD/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func archiveServer(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/archive/HEAD.tar.gz") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidateRepoURL(t *testing.T) {
	valid := []string{
		"https://github.com/owner/repo",
		"http://gitea.internal/owner/repo",
		"https://github.com/owner/repo/",
	}
	for _, u := range valid {
		assert.NoError(t, ValidateRepoURL(u), u)
	}

	invalid := []string{
		"",
		"owner/repo",
		"ftp://github.com/owner/repo",
		"git@github.com:owner/repo.git",
		"https://",
		"https://github.com",
		"https://github.com/",
	}
	for _, u := range invalid {
		assert.Error(t, ValidateRepoURL(u), u)
	}
}

func TestArchiveFetcherFetch(t *testing.T) {
	archive := tarGz(t, map[string]string{
		"main.go":          "package main\n",
		"README.md":        "# repo\n",
		"internal/util.go": "package internal\n",
	})
	srv := archiveServer(t, archive)

	f := NewArchiveFetcher(srv.Client(), 0)
	tree, err := f.Fetch(context.Background(), srv.URL+"/owner/repo")
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md", "internal/util.go", "main.go"}, tree.Paths())
	assert.Equal(t, "package main\n", tree.Files["main.go"])
}

func TestArchiveFetcherSkipsGitAndBinaryFiles(t *testing.T) {
	archive := tarGz(t, map[string]string{
		"main.go":         "package main\n",
		".git/HEAD":       "ref: refs/heads/main\n",
		".git/objects/ab": "whatever",
		"logo.png":        "\x89PNG\r\n\x1a\n\xff\xfe\x00binary",
	})
	srv := archiveServer(t, archive)

	f := NewArchiveFetcher(srv.Client(), 0)
	tree, err := f.Fetch(context.Background(), srv.URL+"/owner/repo")
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go"}, tree.Paths())
}

func TestArchiveFetcherSizeCap(t *testing.T) {
	archive := tarGz(t, map[string]string{
		"big.txt": strings.Repeat("a", 2048),
	})
	srv := archiveServer(t, archive)

	f := NewArchiveFetcher(srv.Client(), 1024)
	_, err := f.Fetch(context.Background(), srv.URL+"/owner/repo")
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, fetchErr.Error(), "exceeds")
}

func TestArchiveFetcherNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	f := NewArchiveFetcher(srv.Client(), 0)
	_, err := f.Fetch(context.Background(), srv.URL+"/owner/missing")
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, fetchErr.Error(), "status 404")
}

func TestArchiveFetcherInvalidArchive(t *testing.T) {
	srv := archiveServer(t, []byte("this is not gzip"))

	f := NewArchiveFetcher(srv.Client(), 0)
	_, err := f.Fetch(context.Background(), srv.URL+"/owner/repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid gzip archive")
}

func TestArchiveFetcherEmptyArchive(t *testing.T) {
	archive := tarGz(t, map[string]string{
		".git/HEAD": "ref: refs/heads/main\n",
	})
	srv := archiveServer(t, archive)

	f := NewArchiveFetcher(srv.Client(), 0)
	_, err := f.Fetch(context.Background(), srv.URL+"/owner/repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no readable files")
}

func TestArchiveFetcherInvalidURL(t *testing.T) {
	f := NewArchiveFetcher(nil, 0)
	_, err := f.Fetch(context.Background(), "owner/repo")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "owner/repo", fetchErr.RepoURL)
}

func TestArchiveFetcherContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	f := NewArchiveFetcher(srv.Client(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, srv.URL+"/owner/repo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFileTreeClone(t *testing.T) {
	tree := NewFileTree()
	tree.Files["a.txt"] = "one"

	clone := tree.Clone()
	clone.Files["a.txt"] = "changed"
	clone.Files["b.txt"] = "two"

	assert.Equal(t, "one", tree.Files["a.txt"])
	assert.NotContains(t, tree.Files, "b.txt")
}
