package sftp

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/telebroad/vfsftpd/filesystem"
	"github.com/telebroad/vfsftpd/users"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleRoot(t *testing.T) *filesystem.MemDirectory {
	t.Helper()
	root := filesystem.NewDirectory("root")
	test := filesystem.NewDirectory("test")
	require.NoError(t, root.AddDirectory(test))
	require.NoError(t, test.AddDirectory(filesystem.NewDirectory("isi")))
	require.NoError(t, test.AddFile(filesystem.NewFile("Test1", []byte("content of Test1"))))
	return root
}

func startServer(t *testing.T, root filesystem.Directory) string {
	t.Helper()
	s := NewSFTPServer("127.0.0.1:0", root, users.SharedSecret("123"))
	s.SetLogger(discardLogger)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	errC := make(chan error, 1)
	go func() { errC <- s.Serve(ln) }()
	require.Eventually(t, func() bool { return s.ListenerAddr() != nil }, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
		assert.ErrorIs(t, <-errC, ErrServerClosed)
	})
	return ln.Addr().String()
}

func dial(addr, password string) (*ssh.Client, error) {
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "bob",
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func newClient(t *testing.T, addr string) *sftp.Client {
	t.Helper()
	conn, err := dial(addr, "123")
	require.NoError(t, err)
	client, err := sftp.NewClient(conn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = conn.Close()
	})
	return client
}

func TestServer_WrongPassword(t *testing.T) {
	addr := startServer(t, sampleRoot(t))
	_, err := dial(addr, "nope")
	assert.Error(t, err)
}

func TestServer_Browse(t *testing.T) {
	addr := startServer(t, sampleRoot(t))
	client := newClient(t, addr)

	infos, err := client.ReadDir("/test")
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"Test1", "isi"}, names)

	info, err := client.Stat("/test/Test1")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	assert.EqualValues(t, 16, info.Size())

	info, err = client.Stat("/test/isi")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = client.Stat("/test/missing")
	assert.Error(t, err)
	_, err = client.ReadDir("/nope")
	assert.Error(t, err)
}

func TestServer_ReadWrite(t *testing.T) {
	root := sampleRoot(t)
	addr := startServer(t, root)
	client := newClient(t, addr)

	f, err := client.Open("/test/Test1")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "content of Test1", string(data))
	require.NoError(t, f.Close())

	w, err := client.Create("/test/isi/upload.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("uploaded over sftp"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Eventually(t, func() bool {
		nav := filesystem.NewNavigator(root)
		file, err := nav.LookupFile("/test/isi/upload.txt")
		if err != nil {
			return false
		}
		content, err := file.Read()
		return err == nil && string(content) == "uploaded over sftp"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Mkdir("/test/made"))
	info, err := client.Stat("/test/made")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.Error(t, client.Mkdir("/test/made"))
	assert.Error(t, client.Remove("/test/Test1"))
}

func TestServer_LocalFS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disk.txt"), []byte("on disk"), 0666))
	addr := startServer(t, filesystem.NewLocalFS(dir).Root())
	client := newClient(t, addr)

	f, err := client.Open("/disk.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(data))
	require.NoError(t, f.Close())
}

func TestListerAt(t *testing.T) {
	root := sampleRoot(t)
	entries, err := root.Entries()
	require.NoError(t, err)
	lister := ListerAt{fileInfo{entry: entries[0]}, fileInfo{entry: root}}

	buf := make([]os.FileInfo, 1)
	n, err := lister.ListAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "test", buf[0].Name())
	assert.True(t, buf[0].IsDir())
	assert.Equal(t, os.ModeDir|0755, buf[0].Mode())

	buf = make([]os.FileInfo, 2)
	n, err = lister.ListAt(buf, 1)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, n)
	assert.Equal(t, "/", buf[0].Name())

	_, err = lister.ListAt(buf, 5)
	assert.ErrorIs(t, err, io.EOF)
}

func TestGenerateHostKey(t *testing.T) {
	tests := []struct {
		keyType KeyType
		bitSize int
		wantErr bool
	}{
		{KeyEd25519, 0, false},
		{KeyRSA, 2048, false},
		{KeyRSA, 1024, true},
		{KeyECDSA, 256, false},
		{KeyECDSA, 521, false},
		{KeyECDSA, 224, true},
		{"dsa", 0, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.keyType), func(t *testing.T) {
			pk, err := GenerateHostKey(tt.keyType, tt.bitSize)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, err = parseSigner(pk)
			assert.NoError(t, err)
		})
	}
}

func TestLoadOrGenerateHostKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	first, err := LoadOrGenerateHostKey(path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	second, err := LoadOrGenerateHostKey(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	inMemory, err := LoadOrGenerateHostKey("")
	require.NoError(t, err)
	assert.NotEqual(t, first, inMemory)
}

func TestFileWriter_OffsetLimit(t *testing.T) {
	w := &fileWriter{file: filesystem.NewFile("x", nil), logger: discardLogger}

	tests := []struct {
		name string
		off  int64
		size int
	}{
		{"negative", -1, 1},
		{"huge", 1 << 62, 1},
		{"past the limit", filesystem.MaxFileSize, 1},
		{"ends past the limit", filesystem.MaxFileSize - 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := w.WriteAt(make([]byte, tt.size), tt.off)
			assert.ErrorIs(t, err, sftp.ErrSSHFxFailure)
			assert.Zero(t, n)
		})
	}
	assert.Empty(t, w.buf)

	n, err := w.WriteAt([]byte("end"), 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 'e', 'n', 'd'}, w.buf)
}

func TestServer_SharedReads(t *testing.T) {
	root := sampleRoot(t)
	addr := startServer(t, root)
	client := newClient(t, addr)

	first, err := client.Open("/test/Test1")
	require.NoError(t, err)
	second, err := client.Open("/test/Test1")
	require.NoError(t, err, "a second reader shares the open file")

	for _, f := range []*sftp.File{second, first} {
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "content of Test1", string(data))
		require.NoError(t, f.Close())
	}

	// writers still need the file to themselves
	reader, err := client.Open("/test/Test1")
	require.NoError(t, err)
	_, err = client.Create("/test/Test1")
	assert.Error(t, err)
	require.NoError(t, reader.Close())

	file, err := filesystem.NewNavigator(root).LookupFile("/test/Test1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !file.(*filesystem.MemFile).IsOpen() }, 5*time.Second, 10*time.Millisecond)
}
