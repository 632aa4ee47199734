// Package ioengine implements unified.Transport for plain TCP and TLS
// sockets, including SNI control and upstream SOCKS5/HTTP proxy dialing,
// behind one Connect/Listen surface shared with every other protocol
// engine in this runtime.
package ioengine

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/netlog"
	"github.com/kcenon/network-system-sub003/pkg/registry"
	"github.com/kcenon/network-system-sub003/pkg/timing"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// ProxyConfig configures an upstream SOCKS5 or HTTP CONNECT proxy dial,
// reusing golang.org/x/net/proxy's dialer abstraction the way the
// teacher's transport.go connectViaProxy does.
type ProxyConfig struct {
	// Type is "socks5" or "http".
	Type     string
	Address  string
	Username string
	Password string
}

// Config configures one ioengine.Transport instance.
type Config struct {
	UseTLS     bool
	TLSConfig  *tls.Config
	SNI        string
	DisableSNI bool
	Proxy      *ProxyConfig
	DialTimeout time.Duration
	Logger     netlog.Logger
}

// Transport implements unified.Transport for TCP/TLS.
type Transport struct {
	cfg   Config
	conns *registry.Registry[*Connection]
}

// New creates a TCP/TLS Transport.
func New(cfg Config) *Transport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = constants.DefaultConnTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = netlog.Discard()
	}
	return &Transport{cfg: cfg, conns: registry.New[*Connection]()}
}

func (t *Transport) Name() string {
	if t.cfg.UseTLS {
		return "tls"
	}
	return "tcp"
}

// Connect dials target, optionally through an upstream proxy and
// optionally upgrading to TLS with SNI applied per Config.
func (t *Transport) Connect(ctx context.Context, target unified.Endpoint, opts unified.ConnOptions, cb unified.ConnCallbacks) (unified.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	timer := timing.NewTimer()

	addr := target.String()
	timer.StartTCP()
	raw, err := t.dial(dialCtx, addr)
	timer.EndTCP()
	if err != nil {
		return nil, errors.NewConnectionError(target.Host, target.Port, err)
	}

	if t.cfg.UseTLS {
		timer.StartTLS()
		raw, err = t.upgradeTLS(raw, target.Host)
		timer.EndTLS()
		if err != nil {
			return nil, errors.NewTLSError(target.Host, target.Port, err)
		}
	}

	conn := newConnection(raw, cb)
	conn.SetOptions(opts)
	conn.timer = timer
	conn.timer.StartTTFB()
	t.conns.Insert(conn.ID(), addr, conn)
	if cb.OnConnected != nil {
		cb.OnConnected(conn)
	}
	go conn.readLoop()
	return conn, nil
}

func (t *Transport) dial(ctx context.Context, addr string) (net.Conn, error) {
	if t.cfg.Proxy == nil {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}

	switch t.cfg.Proxy.Type {
	case "socks5":
		var auth *proxy.Auth
		if t.cfg.Proxy.Username != "" {
			auth = &proxy.Auth{User: t.cfg.Proxy.Username, Password: t.cfg.Proxy.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", t.cfg.Proxy.Address, auth, proxy.Direct)
		if err != nil {
			return nil, errors.NewProxyError("socks5", t.cfg.Proxy.Address, err)
		}
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			return ctxDialer.DialContext(ctx, "tcp", addr)
		}
		return dialer.Dial("tcp", addr)

	case "http":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", t.cfg.Proxy.Address)
		if err != nil {
			return nil, errors.NewProxyError("http", t.cfg.Proxy.Address, err)
		}
		if err := httpConnect(conn, addr); err != nil {
			conn.Close()
			return nil, errors.NewProxyError("http", t.cfg.Proxy.Address, err)
		}
		return conn, nil

	default:
		return nil, errors.NewValidationError("unknown proxy type: " + t.cfg.Proxy.Type)
	}
}

func (t *Transport) upgradeTLS(raw net.Conn, host string) (net.Conn, error) {
	cfg := t.cfg.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		cfg = cfg.Clone()
	}

	if !t.cfg.DisableSNI {
		if cfg.ServerName == "" {
			if t.cfg.SNI != "" {
				cfg.ServerName = t.cfg.SNI
			} else {
				cfg.ServerName = host
			}
		}
	}

	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// Listen binds local and accepts inbound TCP/TLS connections.
func (t *Transport) Listen(ctx context.Context, local unified.Endpoint, opts unified.ConnOptions, cb unified.ListenerCallbacks) (unified.Listener, error) {
	var ln net.Listener
	var err error
	if t.cfg.UseTLS {
		if t.cfg.TLSConfig == nil {
			return nil, errors.NewValidationError("TLS listener requires TLSConfig with a server certificate")
		}
		ln, err = tls.Listen("tcp", local.String(), t.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", local.String())
	}
	if err != nil {
		return nil, errors.NewConnectionError(local.Host, local.Port, err)
	}
	return newListener(ln, cb), nil
}
