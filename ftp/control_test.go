package ftp

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlChannel_ReadLine(t *testing.T) {
	server, client := loopbackPair(t)
	control := NewControlChannel(server, discardLogger)

	_, err := io.WriteString(client, "USER bob\r\nPASS 1\n23\r\n\r\n")
	require.NoError(t, err)

	tests := []string{"USER bob", "PASS 1\n23", ""}
	for _, want := range tests {
		line, err := control.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
}

func TestControlChannel_Reply(t *testing.T) {
	server, client := loopbackPair(t)
	control := NewControlChannel(server, discardLogger)
	c := newTestClient(t, client)

	require.NoError(t, control.Reply(StatusSyntaxError, "Unrecognized command!"))
	require.NoError(t, control.Reply(StatusCommandOK, "ok"))
	assert.Equal(t, "500 Unrecognized command!", c.readReply())
	assert.Equal(t, "200 ok", c.readReply())
}

func TestControlChannel_PeerClosed(t *testing.T) {
	server, client := loopbackPair(t)
	control := NewControlChannel(server, discardLogger)

	_, err := io.WriteString(client, "PWD")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = control.ReadLine()
	assert.ErrorIs(t, err, ErrControlClosed)
	assert.True(t, control.Closed())
	assert.ErrorIs(t, control.Reply(StatusCommandOK, "late"), ErrControlClosed)
}

func TestControlChannel_LineTooLong(t *testing.T) {
	server, client := loopbackPair(t)
	control := NewControlChannel(server, discardLogger)

	go func() {
		_, _ = io.WriteString(client, strings.Repeat("A", maxLineLength+10))
	}()
	_, err := control.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.True(t, control.Closed())
}

func TestControlChannel_CloseTwice(t *testing.T) {
	server, client := loopbackPair(t)
	control := NewControlChannel(server, discardLogger)

	require.NoError(t, control.Close())
	assert.ErrorIs(t, control.Close(), ErrControlClosed)
	expectClosed(t, client)
}
