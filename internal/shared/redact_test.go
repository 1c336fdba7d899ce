package shared

import "testing"

func TestRedact(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"bearer", "Bearer abc123def456ghi789jkl0", "Bearer [REDACTED]"},
		{"assignment", "api_key=abcdef1234567890abcdef", "api_key=[REDACTED]"},
		{"openai", "using key sk-proj1234567890abcdefghijkl for whisper", "using key [REDACTED] for whisper"},
		{"anthropic", "sk-ant-REDACTED rejected", "[REDACTED] rejected"},
		{"google", "key is AIzaSyA1234567890abcdefghijklmnopqrstuvwx", "key is [REDACTED]"},
		{"query", "GET /ws?token=s3cr3t&x=1", "GET /ws?token=[REDACTED]&x=1"},
		{"plain", `task "write report" created`, `task "write report" created`},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Redact(tc.in); got != tc.want {
				t.Fatalf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSensitiveKey(t *testing.T) {
	cases := map[string]bool{
		"OPENAI_API_KEY":        true,
		"TASKMASTER_AUTH_TOKEN": true,
		"password":              true,
		"auth_header":           false,
		"TASKMASTER_BIND_ADDR":  false,
		" ":                     false,
	}
	for key, want := range cases {
		if got := SensitiveKey(key); got != want {
			t.Errorf("SensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
