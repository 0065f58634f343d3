package logx

import (
	"os"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"warning", false},
		{"error", false},
		{"", false},
		{"bad", true},
	}
	for _, c := range cases {
		_, err := ParseLevel(c.in)
		if c.wantErr && err == nil {
			t.Fatalf("expected error for %q", c.in)
		}
		if !c.wantErr && err != nil {
			t.Fatalf("unexpected error for %q: %v", c.in, err)
		}
	}
}

func TestConfigurePrecedence(t *testing.T) {
	t.Setenv("MORPHEUS_LOG_LEVEL", "warn")
	if err := Configure("", false); err != nil {
		t.Fatalf("configure env: %v", err)
	}
	if IsDebug() {
		t.Fatalf("expected non-debug from env warn")
	}

	if err := Configure("", true); err != nil {
		t.Fatalf("configure verbose: %v", err)
	}
	if !IsDebug() {
		t.Fatalf("expected debug from verbose")
	}

	if err := Configure("error", true); err != nil {
		t.Fatalf("configure explicit: %v", err)
	}
	if IsDebug() {
		t.Fatalf("expected non-debug from explicit error")
	}

	_ = os.Unsetenv("MORPHEUS_LOG_LEVEL")
}

func TestRedactor(t *testing.T) {
	var r Redactor
	if got := r.Redact("nothing registered"); got != "nothing registered" {
		t.Fatalf("zero redactor changed input: %q", got)
	}

	r.Add("hunter2", "", "s3ss10nkey")
	got := r.Redact("unlock hunter2 failed; session=s3ss10nkey hunter2")
	want := "unlock [REDACTED] failed; session=[REDACTED] [REDACTED]"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	// Re-adding a known value is a no-op.
	r.Add("hunter2")
	if got := r.Redact("hunter2"); got != Redacted {
		t.Fatalf("got %q", got)
	}
}

func TestRedactorReplace(t *testing.T) {
	var r Redactor
	r.Add("master-password")

	r.Replace("", "session-1")
	if got := r.Redact("session-1"); got != Redacted {
		t.Fatalf("new secret not redacted: %q", got)
	}

	for _, next := range []string{"session-2", "session-3", "session-4"} {
		prev := r.secrets[len(r.secrets)-1]
		r.Replace(prev, next)
	}
	if len(r.secrets) != 2 {
		t.Fatalf("secrets = %v, want master password and latest session only", r.secrets)
	}
	if got := r.Redact("session-1 session-4 master-password"); got != "session-1 [REDACTED] [REDACTED]" {
		t.Fatalf("got %q", got)
	}

	r.Replace("master-password", "")
	r.Replace("session-4", "")
	if got := r.Redact("session-4"); got != "session-4" {
		t.Fatalf("emptied redactor changed input: %q", got)
	}
}
