package httphandler

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telebroad/vfsftpd/filesystem"
	"github.com/telebroad/vfsftpd/users"
)

func sampleRoot(t *testing.T) *filesystem.MemDirectory {
	t.Helper()
	root := filesystem.NewDirectory("root")
	test := filesystem.NewDirectory("test")
	require.NoError(t, root.AddDirectory(test))
	require.NoError(t, test.AddDirectory(filesystem.NewDirectory("isi")))
	require.NoError(t, test.AddFile(filesystem.NewFile("Test1.txt", []byte("content of Test1"))))
	return root
}

func newTestServer(t *testing.T, root filesystem.Directory) *httptest.Server {
	t.Helper()
	h := NewFileServerHandler("/files", root, users.SharedSecret("123"))
	h.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.Handle("/files/", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body io.Reader, password string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if password != "" {
		req.SetBasicAuth("bob", password)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(data)
}

func TestFileServer_Auth(t *testing.T) {
	srv := newTestServer(t, sampleRoot(t))

	res, _ := do(t, http.MethodGet, srv.URL+"/files/", nil, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, res.Header.Get("WWW-Authenticate"), "Basic")

	res, _ = do(t, http.MethodGet, srv.URL+"/files/", nil, "nope")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = do(t, http.MethodGet, srv.URL+"/files/", nil, "123")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestFileServer_Browse(t *testing.T) {
	srv := newTestServer(t, sampleRoot(t))

	res, body := do(t, http.MethodGet, srv.URL+"/files/", nil, "123")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", res.Header.Get("Content-Type"))
	assert.Contains(t, body, "Index of /")
	assert.Contains(t, body, `href="test/"`)
	assert.NotContains(t, body, `href="../"`)

	res, body = do(t, http.MethodGet, srv.URL+"/files/test/", nil, "123")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Index of /test")
	assert.Contains(t, body, `href="../"`)
	assert.Contains(t, body, `href="isi/"`)
	assert.Contains(t, body, `href="Test1.txt"`)

	// the client follows the redirect to the slash form
	res, body = do(t, http.MethodGet, srv.URL+"/files/test", nil, "123")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "/files/test/", res.Request.URL.Path)
	assert.Contains(t, body, "Index of /test")

	res, _ = do(t, http.MethodGet, srv.URL+"/files/missing/", nil, "123")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestFileServer_Get(t *testing.T) {
	root := sampleRoot(t)
	srv := newTestServer(t, root)

	res, body := do(t, http.MethodGet, srv.URL+"/files/test/Test1.txt", nil, "123")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "content of Test1", body)
	assert.True(t, strings.HasPrefix(res.Header.Get("Content-Type"), "text/plain"))
	assert.Equal(t, "16", res.Header.Get("Content-Length"))

	res, body = do(t, http.MethodHead, srv.URL+"/files/test/Test1.txt", nil, "123")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, body)

	file, err := filesystem.NewNavigator(root).LookupFile("/test/Test1.txt")
	require.NoError(t, err)
	assert.False(t, file.(*filesystem.MemFile).IsOpen())

	// readers share a file that is already open, writers are refused
	require.NoError(t, file.Open())
	res, body = do(t, http.MethodGet, srv.URL+"/files/test/Test1.txt", nil, "123")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "content of Test1", body)
	assert.True(t, file.(*filesystem.MemFile).IsOpen(), "the flag stays with the holder")

	res, _ = do(t, http.MethodPut, srv.URL+"/files/test/Test1.txt", strings.NewReader("lost"), "123")
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	require.NoError(t, file.Close())

	data, err := file.Read()
	require.NoError(t, err)
	assert.Equal(t, "content of Test1", string(data))
}

func TestFileServer_Put(t *testing.T) {
	root := sampleRoot(t)
	srv := newTestServer(t, root)

	res, _ := do(t, http.MethodPut, srv.URL+"/files/test/isi/new.txt", strings.NewReader("fresh"), "123")
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	res, _ = do(t, http.MethodPut, srv.URL+"/files/test/Test1.txt", strings.NewReader("replaced"), "123")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	nav := filesystem.NewNavigator(root)
	for path, want := range map[string]string{"/test/isi/new.txt": "fresh", "/test/Test1.txt": "replaced"} {
		file, err := nav.LookupFile(path)
		require.NoError(t, err, path)
		data, err := file.Read()
		require.NoError(t, err)
		assert.Equal(t, want, string(data), path)
	}

	res, _ = do(t, http.MethodPut, srv.URL+"/files/test/isi", strings.NewReader("x"), "123")
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, _ = do(t, http.MethodPut, srv.URL+"/files/nope/new.txt", strings.NewReader("x"), "123")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestFileServer_LocalFS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disk.txt"), []byte("on disk"), 0666))
	srv := newTestServer(t, filesystem.NewLocalFS(dir).Root())

	res, body := do(t, http.MethodGet, srv.URL+"/files/disk.txt", nil, "123")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "on disk", body)

	res, _ = do(t, http.MethodPut, srv.URL+"/files/upload.txt", strings.NewReader("uploaded"), "123")
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	data, err := os.ReadFile(filepath.Join(dir, "upload.txt"))
	require.NoError(t, err)
	assert.Equal(t, "uploaded", string(data))
}

func TestFileServer_Methods(t *testing.T) {
	srv := newTestServer(t, sampleRoot(t))

	res, _ := do(t, http.MethodOptions, srv.URL+"/files/", nil, "123")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "GET, HEAD, PUT", res.Header.Get("Allow"))

	for _, method := range []string{http.MethodPost, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			res, _ := do(t, method, srv.URL+"/files/test/Test1.txt", nil, "123")
			assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
		})
	}
}

func TestServer_TryListenAndServe(t *testing.T) {
	taken, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	busy := &Server{Server: &http.Server{Addr: taken.Addr().String()}}
	assert.Error(t, busy.TryListenAndServe(time.Second))

	free := &Server{Server: &http.Server{Addr: "127.0.0.1:0"}}
	require.NoError(t, free.TryListenAndServe(100*time.Millisecond))
	require.NoError(t, free.Close())
}
