// Package grpcstatus defines the gRPC status code space. It is kept
// entirely separate from pkg/errors.ErrorType (spec §9's open question
// about the two numbering spaces): gRPC status codes are never cast
// to or from a transport ErrorType.
package grpcstatus

// Code is a gRPC status code, numerically matching the reference gRPC
// status enum.
type Code uint32

const (
	OK                 Code = 0
	Canceled           Code = 1
	Unknown            Code = 2
	InvalidArgument    Code = 3
	DeadlineExceeded   Code = 4
	NotFound           Code = 5
	AlreadyExists      Code = 6
	PermissionDenied   Code = 7
	ResourceExhausted  Code = 8
	FailedPrecondition Code = 9
	Aborted            Code = 10
	OutOfRange         Code = 11
	Unimplemented      Code = 12
	Internal           Code = 13
	Unavailable        Code = 14
	DataLoss           Code = 15
	Unauthenticated    Code = 16
)

var names = map[Code]string{
	OK:                 "OK",
	Canceled:           "CANCELLED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	DataLoss:           "DATA_LOSS",
	Unauthenticated:    "UNAUTHENTICATED",
}

func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return "CODE(" + itoa(uint32(c)) + ")"
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Status pairs a Code with a human-readable message and optional
// opaque details, mirroring the trailing grpc-status/grpc-message/
// grpc-status-details-bin trio.
type Status struct {
	Code    Code
	Message string
	Details []byte
}

// Error adapts a Status to the error interface so it can travel through
// ordinary Go error-handling paths on the client side.
type Error struct {
	Status Status
}

func (e *Error) Error() string {
	if e.Status.Message == "" {
		return e.Status.Code.String()
	}
	return e.Status.Code.String() + ": " + e.Status.Message
}

// New constructs a *Error for the given code and message.
func New(code Code, message string) *Error {
	return &Error{Status: Status{Code: code, Message: message}}
}

// FromError extracts the Status carried by err, if any, defaulting to
// Unknown for a non-nil error that isn't a *Error.
func FromError(err error) Status {
	if err == nil {
		return Status{Code: OK}
	}
	if ge, ok := err.(*Error); ok {
		return ge.Status
	}
	return Status{Code: Unknown, Message: err.Error()}
}
