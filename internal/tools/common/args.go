package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mailgate/internal/gate"
)

// ConfirmationTokenArg is the argument every gated tool accepts.
const ConfirmationTokenArg = "confirmationToken"

// WithConfirmationToken declares the confirmationToken argument.
func WithConfirmationToken() mcp.ToolOption {
	return mcp.WithString(ConfirmationTokenArg,
		mcp.Description("Confirmation token or code from the human. Leave empty on the first call; the tool then explains how the user approves the action."),
	)
}

// String returns the trimmed string argument, or "" when it is absent or
// not a string.
func String(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return strings.TrimSpace(v)
}

// Text returns a string argument unchanged. Use it for free text where
// surrounding whitespace is content.
func Text(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}

// Bool accepts a JSON boolean or the strings "true" and "false".
func Bool(args map[string]any, name string) bool {
	switch v := args[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}

// Int accepts a JSON number or a numeric string. Absent arguments are 0.
func Int(args map[string]any, name string) (int, error) {
	switch v := args[name].(type) {
	case nil:
		return 0, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%s must be a whole number", name)
		}
		return int(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s must be a number", name)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be a number", name)
	}
}

// StringList parses an argument that is either a comma separated string or
// an array of strings. Absent arguments yield nil.
func StringList(args map[string]any, name string) ([]string, error) {
	switch v := args[name].(type) {
	case nil:
		return nil, nil
	case string:
		return gate.SplitAddresses(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", name, i)
			}
			if str = strings.TrimSpace(str); str == "" {
				return nil, fmt.Errorf("%s[%d] cannot be empty", name, i)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", name)
	}
}

// AddressList is StringList rendered back as a comma separated list.
func AddressList(args map[string]any, name string) (string, error) {
	list, err := StringList(args, name)
	if err != nil {
		return "", err
	}
	return strings.Join(list, ", "), nil
}
