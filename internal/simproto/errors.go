package simproto

import "fmt"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Call layer.
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrUnsupported = "E_UNSUPPORTED"
	ErrSimFailure  = "E_SIM_FAILURE"
	ErrTimeout     = "E_TIMEOUT"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrUnsupported:     {},
	ErrSimFailure:      {},
	ErrTimeout:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CallError is a failed CALL as reported by the host.
type CallError struct {
	Method  string
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}
