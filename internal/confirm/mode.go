package confirm

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how a human approves a pending action.
type Mode int

const (
	// ModeInline shows a short code to the human, who types it back to the agent.
	ModeInline Mode = iota

	// ModeOutOfBand sends the human to a browser page on the confirmation
	// service where the code is entered; the agent polls for the result.
	ModeOutOfBand
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeInline:
		return "inline"
	case ModeOutOfBand:
		return "oob"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration value into a Mode.
// An empty value selects ModeInline.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inline", "token", "code":
		return ModeInline, nil
	case "oob", "out-of-band", "captcha", "browser":
		return ModeOutOfBand, nil
	default:
		return ModeInline, fmt.Errorf("unknown confirmation mode: %s (valid: inline, oob)", s)
	}
}

// TTL returns how long a pending approval issued in this mode stays valid.
func (m Mode) TTL() time.Duration {
	if m == ModeOutOfBand {
		return OutOfBandTTL
	}
	return InlineTTL
}
