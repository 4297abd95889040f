package provider

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gatewayd/internal/fileserve"
)

func TestFileProvider_ServesPlainFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi there"), 0o644))

	p := &FileProvider{PathPrefix: "/static", Root: root}

	resp := dispatchOne(t, "www.ex.com", "/static", p, false,
		"GET /static/hello.txt HTTP/1.1\r\nHost: www.ex.com\r\nConnection: close\r\n\r\n")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(body))
}

func TestFileProvider_MissingFileIs404(t *testing.T) {
	root := t.TempDir()
	p := &FileProvider{PathPrefix: "/static", Root: root}

	resp := dispatchOne(t, "www.ex.com", "/static", p, false,
		"GET /static/nope.txt HTTP/1.1\r\nHost: www.ex.com\r\nConnection: close\r\n\r\n")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFileProvider_ResponseHeadersMergedOnSuccessOnly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0o644))

	p := &FileProvider{
		PathPrefix:      "/static",
		Root:            root,
		ResponseHeaders: map[string]string{"X-Served-By": "gatewayd"},
	}

	resp := dispatchOne(t, "www.ex.com", "/static", p, false,
		"GET /static/hello.txt HTTP/1.1\r\nHost: www.ex.com\r\nConnection: close\r\n\r\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gatewayd", resp.Header.Get("X-Served-By"))

	missResp := dispatchOne(t, "www.ex.com", "/static", p, false,
		"GET /static/nope.txt HTTP/1.1\r\nHost: www.ex.com\r\nConnection: close\r\n\r\n")
	require.Equal(t, http.StatusNotFound, missResp.StatusCode)
	assert.Empty(t, missResp.Header.Get("X-Served-By"))
}

func TestFileProvider_DirectoryListing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644))

	p := &FileProvider{
		PathPrefix: "/static",
		Root:       root,
		Options:    fileserve.Options{Listing: true},
	}

	resp := dispatchOne(t, "www.ex.com", "/static", p, false,
		"GET /static/ HTTP/1.1\r\nHost: www.ex.com\r\nConnection: close\r\n\r\n")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "a.txt")
	assert.Contains(t, string(body), "b.txt")
}
