package upsert

import (
	"strings"
	"testing"
)

func TestIsSafeIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		ident string
		valid bool
	}{
		{name: "simple", ident: "message", valid: true},
		{name: "mixedCase", ident: "MessageStatus", valid: true},
		{name: "withUnderscore", ident: "last_status_change", valid: true},
		{name: "withDigits", ident: "status2", valid: true},
		{name: "empty", ident: "", valid: false},
		{name: "startsWithDigit", ident: "1message", valid: false},
		{name: "dash", ident: "message-id", valid: false},
		{name: "space", ident: "message id", valid: false},
		{name: "symbol", ident: "message$", valid: false},
		{name: "backtick", ident: "message`", valid: false},
		{name: "maxLength", ident: strings.Repeat("m", 63), valid: true},
		{name: "tooLong", ident: strings.Repeat("m", 64), valid: false},
		{name: "unicodeLetters", ident: "nachricht_größe", valid: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isSafeIdentifier(tc.ident); got != tc.valid {
				t.Fatalf("isSafeIdentifier(%q) = %v, want %v", tc.ident, got, tc.valid)
			}
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		ident string
		quote rune
		want  string
		err   bool
	}{
		{name: "double", ident: "message", quote: '"', want: `"message"`},
		{name: "backtick", ident: "message", quote: '`', want: "`message`"},
		{name: "invalidStart", ident: "1message", quote: '"', err: true},
		{name: "disallowedChar", ident: `message"id`, quote: '"', err: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := quoteIdentifier(tc.ident, tc.quote)
			if tc.err {
				if err == nil {
					t.Fatalf("quoteIdentifier(%q) expected error, got nil", tc.ident)
				}
				return
			}
			if err != nil {
				t.Fatalf("quoteIdentifier(%q) unexpected error: %v", tc.ident, err)
			}
			if got != tc.want {
				t.Fatalf("quoteIdentifier(%q) = %q, want %q", tc.ident, got, tc.want)
			}
		})
	}
}

func TestDeriveIndexName(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		got := deriveIndexName("message", []string{"message_id"}, "natural_key")
		if got != "ux_f174c85be7df855e" {
			t.Fatalf("deriveIndexName simple = %q", got)
		}
	})

	t.Run("special characters", func(t *testing.T) {
		got := deriveIndexName("User Accounts", []string{"Email-Address"}, "uniq")
		if got != "ux_ee86f33b10e8fec4" {
			t.Fatalf("deriveIndexName special = %q", got)
		}
	})

	t.Run("key order does not matter", func(t *testing.T) {
		a := deriveIndexName("message", []string{"message_id", "tenant"}, "natural_key")
		b := deriveIndexName("MESSAGE", []string{"Tenant", "message_id"}, "Natural_Key")
		if a != b {
			t.Fatalf("deriveIndexName order-dependent: %q vs %q", a, b)
		}
		if !isSafeIdentifier(a) {
			t.Fatalf("deriveIndexName produced unsafe identifier %q", a)
		}
	})
}
