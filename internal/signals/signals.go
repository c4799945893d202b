// Package signals runs external market-signal scripts and stores their output
// as snapshots.
package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

const (
	DefaultTimeout = 2 * time.Minute
	DefaultRetain  = 48
	maxOutputBytes = 8 << 20
)

var ErrNoItems = errors.New("signals: script returned no items")

// Spec describes one script. Args are passed as-is, without a shell.
type Spec struct {
	Kind    string        `yaml:"kind"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Retain  int           `yaml:"retain"`
	Timeout time.Duration `yaml:"timeout"`
	// Cron schedules the script when run under the scheduler.
	Cron string `yaml:"cron"`
}

type specsFile struct {
	Signals []Spec `yaml:"signals"`
}

// LoadSpecs reads the signals YAML file:
//
//	signals:
//	  - kind: movers
//	    command: python3
//	    args: [scripts/movers.py]
//	    retain: 48
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f specsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	seen := make(map[string]bool)
	for i, s := range f.Signals {
		if s.Kind == "" || s.Command == "" {
			return nil, fmt.Errorf("signal #%d: kind and command are required", i)
		}
		if seen[s.Kind] {
			return nil, fmt.Errorf("signal %s: duplicate kind", s.Kind)
		}
		seen[s.Kind] = true
	}
	return f.Signals, nil
}

// Select returns the specs whose kind is listed, in config order. No kinds
// selects every spec. Kinds that match no spec are an error.
func Select(specs []Spec, kinds []string) ([]Spec, error) {
	if len(kinds) == 0 {
		return specs, nil
	}
	selected := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		selected[k] = true
	}
	known := make(map[string]bool, len(specs))
	var out []Spec
	for _, s := range specs {
		known[s.Kind] = true
		if selected[s.Kind] {
			out = append(out, s)
		}
	}
	var unknown []string
	for k := range selected {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown signal kinds: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// Store persists a snapshot and prunes older ones of the same kind.
type Store interface {
	SaveSignalSnapshot(ctx context.Context, snap storage.SignalSnapshot, retain int) (int64, error)
}

// ExecFunc runs a command and returns its stdout.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

type Runner struct {
	Store  Store
	Exec   ExecFunc
	Logger *slog.Logger
	now    func() time.Time
}

func NewRunner(store Store) *Runner {
	return &Runner{Store: store, Exec: execCommand, Logger: logger.With("signals"), now: time.Now}
}

type output struct {
	Items []json.RawMessage `json:"items"`
}

type item struct {
	Symbol string   `json:"symbol"`
	Score  *float64 `json:"score"`
}

// Run executes the script and saves its items as one snapshot. Nothing is
// stored when the script fails or prints invalid output.
func (r *Runner) Run(ctx context.Context, spec Spec) (storage.SignalSnapshot, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.clock()
	stdout, err := r.Exec(ctx, spec.Command, spec.Args...)
	if err != nil {
		return storage.SignalSnapshot{}, fmt.Errorf("run %s: %w", spec.Kind, err)
	}

	snap, err := Parse(spec.Kind, stdout)
	if err != nil {
		return storage.SignalSnapshot{}, err
	}
	snap.CapturedAt = started

	retain := spec.Retain
	if retain <= 0 {
		retain = DefaultRetain
	}
	id, err := r.Store.SaveSignalSnapshot(ctx, snap, retain)
	if err != nil {
		return storage.SignalSnapshot{}, fmt.Errorf("save %s snapshot: %w", spec.Kind, err)
	}
	snap.ID = id

	r.log().Info("signal snapshot saved", "kind", spec.Kind, "snapshot_id", id, "items", len(snap.Items), "took", r.clock().Sub(started))
	return snap, nil
}

// Parse decodes script output of the form {"items":[{"symbol":"BTC","score":0.4,...}]}.
// Each item keeps its full JSON as payload.
func Parse(kind string, stdout []byte) (storage.SignalSnapshot, error) {
	raw := bytes.TrimSpace(stdout)
	var out output
	if err := json.Unmarshal(raw, &out); err != nil {
		return storage.SignalSnapshot{}, fmt.Errorf("parse %s output: %w", kind, err)
	}
	if len(out.Items) == 0 {
		return storage.SignalSnapshot{}, fmt.Errorf("%s: %w", kind, ErrNoItems)
	}

	snap := storage.SignalSnapshot{Kind: kind, Raw: raw}
	for i, msg := range out.Items {
		var it item
		if err := json.Unmarshal(msg, &it); err != nil {
			return storage.SignalSnapshot{}, fmt.Errorf("parse %s item %d: %w", kind, i, err)
		}
		symbol := strings.ToUpper(strings.TrimSpace(it.Symbol))
		if symbol == "" || it.Score == nil {
			return storage.SignalSnapshot{}, fmt.Errorf("parse %s item %d: symbol and score are required", kind, i)
		}
		snap.Items = append(snap.Items, storage.SignalItem{Symbol: symbol, Score: *it.Score, Payload: []byte(msg)})
	}
	return snap, nil
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, n: 64 << 10}
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.w.Len()+len(p) > l.n {
		return 0, fmt.Errorf("output exceeds %d bytes", l.n)
	}
	return l.w.Write(p)
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Runner) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
