package logx

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Redacted replaces registered secret values in log output.
const Redacted = "[REDACTED]"

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func ParseLevel(v string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", v)
	}
}

func SetLevel(v string) error {
	lvl, err := ParseLevel(v)
	if err != nil {
		return err
	}
	currentLevel.Store(int32(lvl))
	return nil
}

// Configure resolves log level from flags and env.
// Precedence: --log-level > --verbose > MORPHEUS_LOG_LEVEL > default(info).
func Configure(flagLevel string, verbose bool) error {
	if strings.TrimSpace(flagLevel) != "" {
		return SetLevel(flagLevel)
	}
	if verbose {
		return SetLevel("debug")
	}
	if env := strings.TrimSpace(os.Getenv("MORPHEUS_LOG_LEVEL")); env != "" {
		return SetLevel(env)
	}
	return SetLevel("info")
}

func levelEnabled(l Level) bool {
	return l >= Level(currentLevel.Load())
}

func IsDebug() bool {
	return levelEnabled(LevelDebug)
}

// Redactor replaces every occurrence of a known secret value with Redacted.
// The zero value redacts nothing.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
	matcher *aho.AhoCorasick
}

// Add registers additional secret values. Empty strings are ignored.
func (r *Redactor) Add(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, v := range values {
		if v == "" || containsString(r.secrets, v) {
			continue
		}
		r.secrets = append(r.secrets, v)
		changed = true
	}
	if changed {
		r.rebuildLocked()
	}
}

// Replace swaps a rotated secret for its successor. old stops being redacted;
// an empty old behaves like Add(next).
func (r *Redactor) Replace(old, next string) {
	if old == next {
		r.Add(next)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.secrets[:0]
	for _, s := range r.secrets {
		if s != old {
			kept = append(kept, s)
		}
	}
	r.secrets = kept
	if next != "" && !containsString(r.secrets, next) {
		r.secrets = append(r.secrets, next)
	}
	r.rebuildLocked()
}

func (r *Redactor) rebuildLocked() {
	if len(r.secrets) == 0 {
		r.matcher = nil
		return
	}
	builder := aho.NewAhoCorasickBuilder(aho.Opts{})
	m := builder.Build(r.secrets)
	r.matcher = &m
}

// Redact returns s with all registered secrets masked.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.matcher == nil || s == "" {
		return s
	}
	matches := r.matcher.FindAll(s)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	pos := 0
	for _, m := range matches {
		if m.Start() < pos {
			continue // overlapping match
		}
		b.WriteString(s[pos:m.Start()])
		b.WriteString(Redacted)
		pos = m.End()
	}
	b.WriteString(s[pos:])
	return b.String()
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var redactor Redactor

// AddSecrets registers values that must never appear in log output.
func AddSecrets(values ...string) { redactor.Add(values...) }

// ReplaceSecret swaps a rotated secret value, such as an expired session key,
// for its successor.
func ReplaceSecret(old, next string) { redactor.Replace(old, next) }

// Redact masks registered secrets in s.
func Redact(s string) string { return redactor.Redact(s) }

func logf(l Level, label, format string, args ...any) {
	if !levelEnabled(l) {
		return
	}
	ts := time.Now().Format(time.RFC3339)
	msg := redactor.Redact(fmt.Sprintf(format, args...))
	fmt.Fprintf(os.Stderr, "%s [%s] %s\n", ts, label, msg)
}

func Debugf(format string, args ...any) { logf(LevelDebug, "DEBUG", format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, "INFO", format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, "WARN", format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, "ERROR", format, args...) }
