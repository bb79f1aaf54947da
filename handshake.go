package websocket

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/valyala/fasthttp"
)

var websocketGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// handshakeState carries the one piece of state that must survive from
// request construction to response validation: the accept key the server
// must echo back.
type handshakeState struct {
	expectedAccept string
}

// buildHandshakeRequest constructs the client's opening HTTP Upgrade
// request, building it with fasthttp.Request over a raw connection rather
// than net/http's client (which doesn't expose the half-duplex hijack this
// protocol needs). extraHeaders and protocols are caller-supplied;
// protocols becomes the comma-joined Sec-WebSocket-Protocol header when
// non-empty.
func buildHandshakeRequest(u *url.URL, extraHeaders map[string]string, protocols []string) (*fasthttp.Request, *handshakeState, error) {
	key, err := newChallengeKey()
	if err != nil {
		return nil, nil, err
	}

	req := fasthttp.AcquireRequest()
	req.Header.SetMethod("GET")

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	req.SetRequestURI(path)

	req.Header.Set("Host", u.Host)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", key)

	if len(protocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(protocols, ", "))
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	return req, &handshakeState{expectedAccept: computeAccept(key)}, nil
}

// newChallengeKey draws the 16 random bytes RFC 6455 §4.1 requires for the
// Sec-WebSocket-Key header and returns them base64-encoded.
func newChallengeKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("websocket: generating challenge key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

func computeAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write(websocketGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// readHandshakeResponse reads and validates the server's response to the
// opening handshake request on br. Any bytes already
// buffered in br past the header terminator are left there, ready to be
// drained into rx by the caller — fasthttp's ResponseHeader.Read stops
// exactly at the end of the headers, and a 101 response carries no body, so
// nothing further needs to be pushed back.
func readHandshakeResponse(br *bufio.Reader, hs *handshakeState) error {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	resp.SkipBody = true
	if err := resp.Header.Read(br); err != nil {
		return &HandshakeError{Msg: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.Header.StatusCode() != fasthttp.StatusSwitchingProtocols {
		return &HandshakeError{
			StatusCode: resp.Header.StatusCode(),
			Msg:        "expected HTTP/1.1 101 Switching Protocols",
		}
	}

	if !bytes.EqualFold(resp.Header.Peek("Upgrade"), []byte("websocket")) {
		return &HandshakeError{Msg: "missing or incorrect Upgrade header"}
	}

	if !headerContainsToken(resp.Header.Peek("Connection"), "upgrade") {
		return &HandshakeError{Msg: "missing or incorrect Connection header"}
	}

	accept := resp.Header.Peek("Sec-WebSocket-Accept")
	if len(accept) == 0 {
		return &HandshakeError{Msg: "missing Sec-WebSocket-Accept header"}
	}
	if string(bytes.TrimSpace(accept)) != hs.expectedAccept {
		return &HandshakeError{Msg: "Sec-WebSocket-Accept does not match expected value"}
	}

	return nil
}

// headerContainsToken reports whether value, interpreted as a comma
// separated list (as the Connection header's grammar requires), contains
// token under a case-insensitive comparison.
func headerContainsToken(value []byte, token string) bool {
	for _, part := range strings.Split(string(value), ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
