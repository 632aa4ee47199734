package grpc

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"time"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/grpcstatus"
	"github.com/kcenon/network-system-sub003/pkg/hpack"
)

// requestHeaderFields builds the pseudo-header-first HEADERS block for a
// gRPC call.
func requestHeaderFields(authority, path string, timeout time.Duration) []hpack.Field {
	fields := []hpack.Field{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: authority},
		{Name: ":path", Value: path},
		{Name: "content-type", Value: constants.GRPCContentType},
		{Name: "te", Value: "trailers"},
		{Name: "grpc-accept-encoding", Value: "identity,gzip,deflate"},
	}
	if timeout > 0 {
		fields = append(fields, hpack.Field{Name: "grpc-timeout", Value: FormatTimeout(timeout)})
	}
	return fields
}

// responseHeaderFields builds the initial (non-trailing) HEADERS block a
// gRPC server sends before any response messages.
func responseHeaderFields() []hpack.Field {
	return []hpack.Field{
		{Name: ":status", Value: "200"},
		{Name: "content-type", Value: constants.GRPCContentType},
	}
}

// BuildTrailer renders a grpcstatus.Status as the trailing HEADERS block:
// grpc-status, percent-encoded grpc-message, and base64
// grpc-status-details-bin when details are set.
func BuildTrailer(status grpcstatus.Status) []hpack.Field {
	fields := []hpack.Field{
		{Name: "grpc-status", Value: strconv.FormatUint(uint64(status.Code), 10)},
	}
	if status.Message != "" {
		fields = append(fields, hpack.Field{Name: "grpc-message", Value: percentEncode(status.Message)})
	}
	if len(status.Details) > 0 {
		fields = append(fields, hpack.Field{
			Name:  "grpc-status-details-bin",
			Value: base64.StdEncoding.EncodeToString(status.Details),
		})
	}
	return fields
}

// ParseTrailer extracts a grpcstatus.Status from a trailing HEADERS
// block's fields.
func ParseTrailer(fields []hpack.Field) grpcstatus.Status {
	var status grpcstatus.Status
	for _, f := range fields {
		switch f.Name {
		case "grpc-status":
			if code, err := strconv.ParseUint(f.Value, 10, 32); err == nil {
				status.Code = grpcstatus.Code(code)
			}
		case "grpc-message":
			if msg, err := url.QueryUnescape(f.Value); err == nil {
				status.Message = msg
			} else {
				status.Message = f.Value
			}
		case "grpc-status-details-bin":
			if raw, err := base64.StdEncoding.DecodeString(f.Value); err == nil {
				status.Details = raw
			}
		}
	}
	return status
}

// isTrailer reports whether a HEADERS block is a trailer (carries
// grpc-status) rather than the initial response headers.
func isTrailer(fields []hpack.Field) bool {
	for _, f := range fields {
		if f.Name == "grpc-status" {
			return true
		}
	}
	return false
}

// pathAndTimeout extracts the request ":path" and parsed grpc-timeout
// (zero if absent) from an incoming request HEADERS block.
func pathAndTimeout(fields []hpack.Field) (path string, timeout time.Duration) {
	for _, f := range fields {
		switch f.Name {
		case ":path":
			path = f.Value
		case "grpc-timeout":
			if d, err := ParseTimeout(f.Value); err == nil {
				timeout = d
			}
		}
	}
	return path, timeout
}

// percentEncode escapes grpc-message with url.QueryEscape: reserved and
// non-ASCII bytes become %XX and spaces become '+'. ParseTrailer reverses
// it with url.QueryUnescape.
func percentEncode(s string) string {
	return url.QueryEscape(s)
}
