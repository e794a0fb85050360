package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWithHelpers(t *testing.T) {
	logger := slog.Default()
	if WithOperation(logger, "refresh") == nil {
		t.Error("WithOperation returned nil")
	}
	if WithTool(logger, "send-email") == nil {
		t.Error("WithTool returned nil")
	}
	if WithAction(logger, "sendEmail") == nil {
		t.Error("WithAction returned nil")
	}
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		key  string
		want string
	}{
		{"operation", Operation("token.refresh"), KeyOperation, "token.refresh"},
		{"action", Action("sendEmail"), KeyAction, "sendEmail"},
		{"mode", Mode("inline"), KeyMode, "inline"},
		{"tool", Tool("send-email"), KeyTool, "send-email"},
		{"status", Status(StatusSuccess), KeyStatus, "success"},
		{"path", Path("/tmp/tokens.json"), KeyPath, "/tmp/tokens.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.key)
			}
			if tt.attr.Value.String() != tt.want {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.want)
			}
		})
	}
}

func TestErr(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		attr := Err(errors.New("boom"))
		if attr.Key != KeyError {
			t.Errorf("Err key = %q, want %q", attr.Key, KeyError)
		}
		if attr.Value.String() != "boom" {
			t.Errorf("Err value = %q, want boom", attr.Value.String())
		}
	})

	t.Run("nil error is omitted", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		logger.Info("msg", Err(nil))
		if strings.Contains(buf.String(), KeyError+"=") {
			t.Errorf("nil error should not be logged, got %q", buf.String())
		}
	})
}

func TestFingerprint(t *testing.T) {
	fp := strings.Repeat("ab", 32)
	attr := Fingerprint(fp)
	if attr.Key != KeyFingerprint {
		t.Errorf("key = %q", attr.Key)
	}
	if got := attr.Value.String(); got != fp[:fingerprintPrefixLen] {
		t.Errorf("value = %q, want %q", got, fp[:fingerprintPrefixLen])
	}
	if got := Fingerprint("abc").Value.String(); got != "abc" {
		t.Errorf("short fingerprint = %q, want abc", got)
	}
}

func TestAnonymizeEmail(t *testing.T) {
	if AnonymizeEmail("") != "" {
		t.Error("empty email should stay empty")
	}
	a := AnonymizeEmail("alice@example.com")
	b := AnonymizeEmail("alice@example.com")
	if a != b {
		t.Error("AnonymizeEmail should be deterministic")
	}
	if !strings.HasPrefix(a, "user:") || len(a) != len("user:")+16 {
		t.Errorf("unexpected format %q", a)
	}
	if strings.Contains(a, "alice") {
		t.Errorf("anonymized value leaks address: %q", a)
	}
	if UserHash("alice@example.com").Value.String() != a {
		t.Error("UserHash should use AnonymizeEmail")
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "<empty>"},
		{"abc", "[token:3 chars]"},
		{"eyJhbGciOiJIUzI1NiJ9.payload", "[token:28 chars]"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.in); got != tt.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskEmails(t *testing.T) {
	got := MaskEmails("a@b.com, C@D.com,,")
	parts := strings.Split(got, ",")
	if len(parts) != 2 {
		t.Fatalf("expected 2 masked entries, got %q", got)
	}
	if parts[1] != AnonymizeEmail("c@d.com") {
		t.Errorf("addresses should be lower-cased before hashing, got %q", parts[1])
	}
	if MaskEmails("  ") != "" {
		t.Error("blank list should mask to empty")
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"user@example.com", "example.com"},
		{"", ""},
		{"not-an-email", ""},
		{"a@b@c", ""},
	}
	for _, tt := range tests {
		if got := ExtractDomain(tt.email); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
	if Domain("x@contoso.com").Value.String() != "contoso.com" {
		t.Error("Domain attr mismatch")
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Debug: true, Format: "json"})
	logger.Debug("hello", Action("sendEmail"))
	if !strings.Contains(buf.String(), `"action":"sendEmail"`) {
		t.Errorf("expected JSON output with action, got %q", buf.String())
	}

	buf.Reset()
	logger = New(&buf, Options{})
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug should be suppressed at info level, got %q", buf.String())
	}
}
