package websocket

import (
	"bufio"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeAcceptMatchesRFCExample(t *testing.T) {
	// The example challenge/accept pair from RFC 6455 §1.3.
	got := computeAccept("dGhlIHNhbXBsZSBub25jZQ==")
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got)
}

func TestBuildHandshakeRequestSetsRequiredHeaders(t *testing.T) {
	u, err := url.Parse("ws://example.com/chat?x=1")
	require.NoError(t, err)

	req, hs, err := buildHandshakeRequest(u, map[string]string{"Origin": "http://example.com"}, []string{"chat", "superchat"})
	require.NoError(t, err)
	defer func() { req.Reset() }()

	require.Equal(t, "websocket", string(req.Header.Peek("Upgrade")))
	require.Equal(t, "Upgrade", string(req.Header.Peek("Connection")))
	require.Equal(t, "13", string(req.Header.Peek("Sec-WebSocket-Version")))
	require.NotEmpty(t, req.Header.Peek("Sec-WebSocket-Key"))
	require.Equal(t, "chat, superchat", string(req.Header.Peek("Sec-WebSocket-Protocol")))
	require.Equal(t, "http://example.com", string(req.Header.Peek("Origin")))
	require.NotEmpty(t, hs.expectedAccept)
}

func TestReadHandshakeResponseAccepts101(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	hs := &handshakeState{expectedAccept: computeAccept(key)}

	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + hs.expectedAccept + "\r\n" +
		"\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	err := readHandshakeResponse(br, hs)
	require.NoError(t, err)
}

func TestReadHandshakeResponseRejectsWrongStatus(t *testing.T) {
	hs := &handshakeState{expectedAccept: "irrelevant"}
	raw := "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	err := readHandshakeResponse(br, hs)
	require.Error(t, err)
	var he *HandshakeError
	require.ErrorAs(t, err, &he)
	require.Equal(t, 404, he.StatusCode)
}

func TestReadHandshakeResponseRejectsMismatchedAccept(t *testing.T) {
	hs := &handshakeState{expectedAccept: computeAccept("dGhlIHNhbXBsZSBub25jZQ==")}
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: not-the-right-value\r\n" +
		"\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	err := readHandshakeResponse(br, hs)
	require.Error(t, err)
}

func TestReadHandshakeResponseRejectsMissingUpgradeHeader(t *testing.T) {
	hs := &handshakeState{expectedAccept: computeAccept("dGhlIHNhbXBsZSBub25jZQ==")}
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + hs.expectedAccept + "\r\n" +
		"\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	err := readHandshakeResponse(br, hs)
	require.Error(t, err)
}

func TestHeaderContainsToken(t *testing.T) {
	require.True(t, headerContainsToken([]byte("keep-alive, Upgrade"), "upgrade"))
	require.False(t, headerContainsToken([]byte("keep-alive"), "upgrade"))
}
