package ftp

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telebroad/vfsftpd/filesystem"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// loopbackPair returns both ends of a real TCP connection on 127.0.0.1
func loopbackPair(t *testing.T) (server net.Conn, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()
	client, err = net.Dial("tcp4", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

// sampleRoot builds / with test/isi and the files Test1..Test3 in /test
func sampleRoot(t *testing.T) *filesystem.MemDirectory {
	t.Helper()
	root := filesystem.NewDirectory("root")
	test := filesystem.NewDirectory("test")
	require.NoError(t, root.AddDirectory(test))
	require.NoError(t, test.AddDirectory(filesystem.NewDirectory("isi")))
	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("Test%d", i)
		require.NoError(t, test.AddFile(filesystem.NewFile(name, []byte("content of "+name))))
	}
	return root
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func dialTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp4", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return newTestClient(t, conn)
}

// readReply returns the next reply line without CRLF
func (c *testClient) readReply() string {
	c.t.Helper()
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	require.True(c.t, strings.HasSuffix(line, "\r\n"), "reply %q is not CRLF terminated", line)
	return strings.TrimSuffix(line, "\r\n")
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, line+"\r\n")
	require.NoError(c.t, err)
}

// cmd sends line and returns the reply
func (c *testClient) cmd(line string) string {
	c.t.Helper()
	c.send(line)
	return c.readReply()
}

func (c *testClient) login() {
	c.t.Helper()
	require.Equal(c.t, "331 Password required!", c.cmd("USER bob"))
	require.Equal(c.t, "230 Authed", c.cmd("PASS 123"))
}

var pasvPattern = regexp.MustCompile(`^227 Entering Passive Mode \((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)$`)

// pasv sends PASV and connects to the announced address
func (c *testClient) pasv() net.Conn {
	c.t.Helper()
	reply := c.cmd("PASV")
	m := pasvPattern.FindStringSubmatch(reply)
	require.NotNil(c.t, m, "unexpected PASV reply %q", reply)
	n := make([]int, 6)
	for i := range n {
		n[i], _ = strconv.Atoi(m[i+1])
	}
	addr := fmt.Sprintf("%d.%d.%d.%d:%d", n[0], n[1], n[2], n[3], n[4]*256+n[5])
	data, err := net.Dial("tcp4", addr)
	require.NoError(c.t, err)
	_ = data.SetDeadline(time.Now().Add(10 * time.Second))
	c.t.Cleanup(func() { _ = data.Close() })
	return data
}

// expectClosed fails unless the peer closed conn
func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

// startSession runs a session on one end of a loopback pair and returns the other end
func startSession(t *testing.T, cfg SessionConfig) (*Session, *testClient, <-chan struct{}) {
	t.Helper()
	server, client := loopbackPair(t)
	if cfg.Logger == nil {
		cfg.Logger = discardLogger
	}
	if cfg.PasvHost == [4]byte{} {
		cfg.PasvHost = [4]byte{127, 0, 0, 1}
	}
	if cfg.PasvMinPort == 0 {
		cfg.PasvMinPort, cfg.PasvMaxPort = 20000, 60000
	}
	c := newTestClient(t, client)
	session := NewSession(server, cfg)
	done := make(chan struct{})
	go func() {
		defer close(done)
		session.Serve()
	}()
	t.Cleanup(func() {
		session.Shutdown()
		<-done
	})
	return session, c, done
}

// fakeMetrics records calls for assertions
type fakeMetrics struct {
	mu        sync.Mutex
	commands  map[string]int
	failed    map[string]int
	transfers map[string]int64
	sessions  int
	auth      []bool
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		commands:  map[string]int{},
		failed:    map[string]int{},
		transfers: map[string]int64{},
	}
}

func (m *fakeMetrics) RecordCommand(cmd string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[cmd]++
	if !success {
		m.failed[cmd]++
	}
}

func (m *fakeMetrics) RecordTransfer(op string, n int64, _ bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[op] += n
}

func (m *fakeMetrics) RecordSession(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open {
		m.sessions++
	} else {
		m.sessions--
	}
}

func (m *fakeMetrics) RecordAuthentication(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = append(m.auth, success)
}
