// Package ws adapts github.com/gorilla/websocket to the unified.Transport
// contract, the way balookrd-outline-cli-ws's internal/transport package
// wraps the same library into a net.Conn-shaped dialer.
package ws

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// Accept computes the Sec-WebSocket-Accept value for a given
// Sec-WebSocket-Key per RFC 6455 section 1.3 / section 4.2.2: base64 of
// the SHA-1 digest of the key concatenated with the handshake GUID.
// gorilla/websocket validates this internally during Upgrade but does
// not expose the computation as a standalone helper.
func Accept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(constants.WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Config configures a Transport.
type Config struct {
	Path      string
	UseTLS    bool
	TLSConfig *tls.Config
	Headers   http.Header
}

// Transport implements unified.Transport over WebSocket connections.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
}

// New builds a WebSocket Transport.
func New(cfg Config) *Transport {
	return &Transport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			TLSClientConfig:  cfg.TLSConfig,
			HandshakeTimeout: constants.DefaultHandshakeWindow,
		},
	}
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) Connect(ctx context.Context, endpoint unified.Endpoint, opts unified.ConnOptions, cb unified.ConnCallbacks) (unified.Connection, error) {
	scheme := "ws"
	if t.cfg.UseTLS {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, endpoint.String(), t.cfg.Path)

	raw, resp, err := t.dialer.DialContext(ctx, url, t.cfg.Headers)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, errors.NewHandshakeError("ws.connect", fmt.Sprintf("dial %s failed (status %d)", url, status), err)
	}

	conn := newConnection(raw, cb)
	go conn.readLoop()
	if cb.OnConnected != nil {
		cb.OnConnected(conn)
	}
	return conn, nil
}

func (t *Transport) Listen(ctx context.Context, endpoint unified.Endpoint, opts unified.ConnOptions, cb unified.ListenerCallbacks) (unified.Listener, error) {
	return newListener(endpoint, t.cfg, cb), nil
}
