package commerce

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
)

// APIError is what every client method returns on failure. The raw
// transport error stays wrapped inside; the orchestrator translates the
// Reason into the user-facing taxonomy.
type APIError struct {
	Endpoint      string
	StatusCode    int
	Reason        checkout.Reason
	ServerMessage string
	Err           error
}

func (e *APIError) Error() string {
	if e.ServerMessage != "" {
		return fmt.Sprintf("commerce %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.ServerMessage)
	}
	if e.Err != nil {
		return fmt.Sprintf("commerce %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("commerce %s: HTTP %d", e.Endpoint, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// ReasonFor extracts the Reason from a client error, or ReasonUnknown.
func ReasonFor(err error) checkout.Reason {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return checkout.ReasonUnknown
}

// Known server error messages. The backend reports these as free-form
// text, with some wording drift between call sites, so matching is by
// substring over a lowercased message. All already-booked/already-claimed
// variants collapse into one ALREADY_OWNED reason; the raw message is
// preserved on the APIError for triage.
var knownMessageReasons = []struct {
	fragment string
	reason   checkout.Reason
}{
	{"unable to apply discount to order", checkout.ReasonDiscountNotApplicable},
	{"discount code not applicable", checkout.ReasonDiscountNotApplicable},
	{"already booked this session", checkout.ReasonAlreadyOwned},
	{"already booked this product", checkout.ReasonAlreadyOwned},
	{"already has a confirmed order for this video", checkout.ReasonAlreadyOwned},
	{"unapproved user", checkout.ReasonUnapprovedUser},
}

// matchServerMessage maps a server error message to a distinguished
// reason code, or ReasonUnknown when the message is not recognized.
func matchServerMessage(msg string) checkout.Reason {
	lowered := strings.ToLower(msg)
	for _, m := range knownMessageReasons {
		if strings.Contains(lowered, m.fragment) {
			return m.reason
		}
	}
	return checkout.ReasonUnknown
}
