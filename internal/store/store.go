// Package store persists the live proxy population and per-TaskDef class
// variables for restart, the way the teacher's persistence.go wraps
// bbolt: a pure-Go embedded KV store needing no C dependency, chosen over
// an external database for the same deployment-simplicity reason.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/taskcycle/metasched/internal/proxy"
	"github.com/taskcycle/metasched/internal/statemachine"
)

var (
	bucketProxies = []byte("proxies")
	bucketClasses = []byte("classes")
)

// ProxySnapshot is the persisted form of a TaskProxy: only the state that
// cannot be recomputed from the TaskDef (spec.md §6 state dump).
type ProxySnapshot struct {
	Identity      string            `json:"identity"`
	State         string            `json:"state"`
	TryNumber     int               `json:"try_number"`
	Spawned       bool              `json:"spawned"`
	LatestMessage string            `json:"latest_message"`
	Outputs       map[string]bool   `json:"outputs"`
	Prerequisites map[string]bool   `json:"prerequisites"`
	Submitted     time.Time         `json:"submitted,omitempty"`
	Started       time.Time         `json:"started,omitempty"`
	Succeeded     time.Time         `json:"succeeded,omitempty"`
}

// ClassSnapshot is the persisted per-TaskDef class-level counters (spec.md
// §9 "class-level counters and class variables").
type ClassSnapshot struct {
	InstanceCount    int   `json:"instance_count"`
	MeanTotalElapsed int64 `json:"mean_total_elapsed"`
}

// Snapshot captures a proxy's persisted fields. It does not attempt to
// capture command/environment/directives — those are reconstructed from
// the immutable TaskDef on restart, not duplicated into the dump.
func Snapshot(p *proxy.Proxy) ProxySnapshot {
	s := p.GetStateSummary()
	outs := make(map[string]bool)
	for _, msg := range p.Outputs.Messages() {
		completed, _ := p.Outputs.Completed(msg)
		outs[msg] = completed
	}
	prereqs := make(map[string]bool)
	for _, msg := range p.Prerequisites.Messages() {
		prereqs[msg] = p.Prerequisites.IsCompleted(msg)
	}
	return ProxySnapshot{
		Identity:      p.Identity.String(),
		State:         string(s.State),
		TryNumber:     p.TryNumber,
		Spawned:       p.Spawned(),
		LatestMessage: p.LatestMessage,
		Outputs:       outs,
		Prerequisites: prereqs,
		Submitted:     s.Submitted,
		Started:       s.Started,
		Succeeded:     s.Succeeded,
	}
}

// Store is a bbolt-backed persistence layer for proxy and class snapshots.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt database at path and ensures
// both buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketProxies, bucketClasses} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveProxy persists one proxy's snapshot, keyed by its identity string.
func (s *Store) SaveProxy(snap ProxySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal proxy %s: %w", snap.Identity, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProxies).Put([]byte(snap.Identity), data)
	})
}

// DeleteProxy removes a proxy's persisted snapshot.
func (s *Store) DeleteProxy(identity string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProxies).Delete([]byte(identity))
	})
}

// SaveClass persists one TaskDef's class-level counters.
func (s *Store) SaveClass(name string, c ClassSnapshot) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal class %s: %w", name, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClasses).Put([]byte(name), data)
	})
}

// AllProxies returns every persisted proxy snapshot.
func (s *Store) AllProxies() ([]ProxySnapshot, error) {
	var out []ProxySnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProxies).ForEach(func(k, v []byte) error {
			var snap ProxySnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("store: unmarshal proxy %s: %w", k, err)
			}
			out = append(out, snap)
			return nil
		})
	})
	return out, err
}

// AllClasses returns every persisted class snapshot, keyed by TaskDef name.
func (s *Store) AllClasses() (map[string]ClassSnapshot, error) {
	out := make(map[string]ClassSnapshot)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClasses).ForEach(func(k, v []byte) error {
			var c ClassSnapshot
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("store: unmarshal class %s: %w", k, err)
			}
			out[string(k)] = c
			return nil
		})
	})
	return out, err
}

// RenderStateDump renders the minimal textual state-dump format spec.md
// §6 specifies: one "<identity> : <state-dump>" line per proxy, sorted
// for determinism, followed by "class <ClassName> : k=v, ..." lines.
func RenderStateDump(proxies []ProxySnapshot, classes map[string]ClassSnapshot) string {
	var b strings.Builder

	sorted := append([]ProxySnapshot(nil), proxies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identity < sorted[j].Identity })
	for _, p := range sorted {
		data, _ := json.Marshal(p)
		fmt.Fprintf(&b, "%s : %s\n", p.Identity, string(data))
	}

	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := classes[name]
		fmt.Fprintf(&b, "class %s : instance_count=%d, mean_total_elapsed=%d\n",
			name, c.InstanceCount, c.MeanTotalElapsed)
	}
	return b.String()
}

// ParseStateDump parses RenderStateDump's format back into proxy and class
// snapshots, for restart from a hand-shipped dump file rather than the
// bbolt database.
func ParseStateDump(text string) ([]ProxySnapshot, map[string]ClassSnapshot, error) {
	var proxies []ProxySnapshot
	classes := make(map[string]ClassSnapshot)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " : ", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("store: malformed state-dump line: %q", line)
		}
		key, rest := parts[0], parts[1]
		if strings.HasPrefix(key, "class ") {
			name := strings.TrimPrefix(key, "class ")
			c, err := parseClassKV(rest)
			if err != nil {
				return nil, nil, fmt.Errorf("store: class %s: %w", name, err)
			}
			classes[name] = c
			continue
		}
		var snap ProxySnapshot
		if err := json.Unmarshal([]byte(rest), &snap); err != nil {
			return nil, nil, fmt.Errorf("store: proxy %s: %w", key, err)
		}
		proxies = append(proxies, snap)
	}
	return proxies, classes, nil
}

func parseClassKV(rest string) (ClassSnapshot, error) {
	var c ClassSnapshot
	for _, kv := range strings.Split(rest, ", ") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "instance_count":
			n, err := strconv.Atoi(parts[1])
			if err != nil {
				return c, err
			}
			c.InstanceCount = n
		case "mean_total_elapsed":
			n, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return c, err
			}
			c.MeanTotalElapsed = n
		}
	}
	return c, nil
}

// Restore applies a ProxySnapshot onto a freshly materialized proxy (its
// TaskDef-derived prerequisite/output sets already populated), restoring
// state, try number, spawned bit, and completion bits matched by message
// text.
func Restore(p *proxy.Proxy, snap ProxySnapshot) {
	if snap.State != "" {
		p.State = statemachine.State(snap.State)
	}
	if snap.TryNumber > 0 {
		p.TryNumber = snap.TryNumber
	}
	if snap.Spawned {
		p.MarkSpawned()
	}
	if !snap.Submitted.IsZero() {
		p.SubmittedTime = snap.Submitted
	}
	if !snap.Started.IsZero() {
		p.StartedTime = snap.Started
	}
	if !snap.Succeeded.IsZero() {
		p.SucceededTime = snap.Succeeded
	}
	for msg, completed := range snap.Outputs {
		if !p.Outputs.Exists(msg) {
			p.Outputs.Add(msg, completed)
			continue
		}
		if completed {
			_ = p.Outputs.SetCompleted(msg)
		}
	}
	for msg, satisfied := range snap.Prerequisites {
		if satisfied && p.Prerequisites.Exists(msg) {
			p.Prerequisites.SetCompleted(msg)
		}
	}
}
