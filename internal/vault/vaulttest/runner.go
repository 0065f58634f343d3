// Package vaulttest provides a scripted stand-in for the vault CLI.
package vaulttest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aspect-build/morpheus/internal/vault"
)

// Response is one scripted CLI reply.
type Response struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
	Delay    time.Duration
}

// OK is a successful reply printing stdout.
func OK(stdout string) Response { return Response{Stdout: stdout} }

// Fail is a reply exiting 1 with stderr.
func Fail(stderr string) Response { return Response{ExitCode: 1, Stderr: stderr} }

// Call is a recorded invocation.
type Call struct {
	Args []string
	Env  []string
}

// FakeRunner replies to sub-commands (the first CLI argument) from per
// sub-command queues, falling back to a default reply once a queue drains.
type FakeRunner struct {
	mu       sync.Mutex
	queues   map[string][]Response
	defaults map[string]Response
	calls    []Call
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		queues:   make(map[string][]Response),
		defaults: make(map[string]Response),
	}
}

// On queues replies for sub.
func (f *FakeRunner) On(sub string, rs ...Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[sub] = append(f.queues[sub], rs...)
	return f
}

// Default sets the reply used for sub when its queue is empty.
func (f *FakeRunner) Default(sub string, r Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults[sub] = r
	return f
}

func (f *FakeRunner) Run(ctx context.Context, c vault.Command) (vault.Result, error) {
	sub := ""
	if len(c.Args) > 0 {
		sub = c.Args[0]
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Args: append([]string(nil), c.Args...), Env: append([]string(nil), c.Env...)})
	var r Response
	if q := f.queues[sub]; len(q) > 0 {
		r = q[0]
		f.queues[sub] = q[1:]
	} else if d, ok := f.defaults[sub]; ok {
		r = d
	} else {
		r = Fail("unscripted command: " + sub)
	}
	f.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return vault.Result{ExitCode: -1}, ctx.Err()
		}
	}
	return vault.Result{ExitCode: r.ExitCode, Stdout: []byte(r.Stdout), Stderr: []byte(r.Stderr)}, r.Err
}

// Calls returns how many times sub was invoked.
func (f *FakeRunner) Calls(sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c.Args) > 0 && c.Args[0] == sub {
			n++
		}
	}
	return n
}

// History returns all recorded invocations in order.
func (f *FakeRunner) History() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Item describes a vault item for ItemsJSON.
type Item struct {
	Name     string
	Type     int // defaults to login
	Username string
	Password string
	URIs     []string
	Notes    string
	Card     map[string]string
	Fields   map[string]string
}

// ItemsJSON renders items the way `list items` prints them.
func ItemsJSON(items ...Item) string {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		typ := it.Type
		if typ == 0 {
			typ = 1
		}
		m := map[string]any{
			"name":  it.Name,
			"type":  typ,
			"notes": it.Notes,
		}
		if it.Card != nil {
			m["card"] = it.Card
		} else {
			uris := make([]map[string]any, 0, len(it.URIs))
			for _, u := range it.URIs {
				uris = append(uris, map[string]any{"uri": u, "match": nil})
			}
			m["login"] = map[string]any{"username": it.Username, "password": it.Password, "uris": uris}
		}
		fields := make([]map[string]any, 0, len(it.Fields))
		for k, v := range it.Fields {
			fields = append(fields, map[string]any{"name": k, "value": v, "type": 0})
		}
		m["fields"] = fields
		out = append(out, m)
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// Unlocked returns a runner whose CLI logs in with session key "key-1" and
// serves items from `list items`.
func Unlocked(items ...Item) *FakeRunner {
	return NewFakeRunner().
		Default("config", OK("Saved setting `config`.")).
		Default("login", OK("key-1")).
		Default("sync", OK("Syncing complete.")).
		Default("list", OK(ItemsJSON(items...))).
		Default("logout", OK("You have logged out."))
}
