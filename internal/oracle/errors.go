package oracle

import (
	"errors"
	"fmt"

	"github.com/simforge/simforge/internal/types"
)

// ErrUnavailable means the gateway call itself failed at the transport level
// (network down, auth rejected, circuit open). This is the one fatal error in
// the loop's taxonomy: it aborts the whole validation request, unlike a
// negative verdict, which just drives another iteration.
var ErrUnavailable = errors.New("oracle unavailable")

// MalformedResponseError means the oracle answered, but the answer could not
// be parsed into the expected structured shape. The controller treats this as
// an execution-equivalent failure and spends an iteration asking for a
// well-formed response.
type MalformedResponseError struct {
	Phase     types.Phase
	Operation string // "synthesize" or "judge"
	Reason    string
	Raw       string // truncated raw response text
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed oracle response (%s, phase=%s): %s", e.Operation, e.Phase, e.Reason)
}

// IsMalformed reports whether err is a malformed-response error and returns it
func IsMalformed(err error) (*MalformedResponseError, bool) {
	var m *MalformedResponseError
	if errors.As(err, &m) {
		return m, true
	}
	return nil, false
}
