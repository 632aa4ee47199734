// Package constants defines magic numbers and default values used throughout
// the network runtime.
package constants

import "time"

// Connection timeouts and limits
const (
	DefaultIdleTimeout    = 90 * time.Second
	DefaultConnTimeout    = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultPingInterval   = 15 * time.Second
	MaxConnectionIdleTime = 5 * time.Minute
	HealthCheckInterval   = 30 * time.Second
	CleanupInterval       = 30 * time.Second
)

// HTTP/2 limits and defaults (RFC 7540 §6.5.2, §11.3)
const (
	MaxTotalStreams            = 10000
	SettingsAckTimeout         = 10 * time.Second
	DefaultHpackTableSize      = 4096
	DefaultMaxConcurrentStream = 100
	DefaultInitialWindowSize   = 65535
	DefaultMaxFrameSize        = 16384
	MaxFrameSizeCeiling        = 16777215 // 2^24-1
	DefaultMaxHeaderListSize   = 8192
	ConnectionPreface          = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
	// DefaultWindowRestoreThreshold is half of DefaultInitialWindowSize;
	// crossing below it triggers a WINDOW_UPDATE back to the default.
	DefaultWindowRestoreThreshold = DefaultInitialWindowSize / 2
)

// gRPC limits and defaults
const (
	DefaultMaxGRPCMessageSize = 4 * 1024 * 1024 // 4MiB
	GRPCContentType           = "application/grpc"
	GRPCContentTypeProto      = "application/grpc+proto"
)

// WebSocket handshake constants (RFC 6455 §1.3)
const (
	WebSocketGUID          = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	DefaultHandshakeWindow = 10 * time.Second
)

// Scheduler defaults
const (
	DefaultPipelinePoolMultiplier = 1 // workers == logical cores
	DefaultUtilityPoolDivisor     = 2 // workers == cores/2
)

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024       // 4MB
	MaxRawBufferSize    = 100 * 1024 * 1024     // 100MB cap for raw buffer
	MaxContentLength    = 1024 * 1024 * 1024 * 1024 // 1TB, shared upper bound
	// DefaultReadBufferSize is the per-Read() chunk size used by
	// connection reactor loops.
	DefaultReadBufferSize = 32 * 1024
)
