package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same semantics as the Firebase
// backend: a JSON tree, serialized transactional updates, and subtree
// watches. It backs every package test and any deployment that wants the
// protocol without a realtime database.
type MemoryStore struct {
	mu       sync.Mutex
	root     map[string]interface{}
	watchers map[int]*memWatcher
	nextID   int
	pushSeq  int64
}

type memWatcher struct {
	path string
	ch   chan Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root:     make(map[string]interface{}),
		watchers: make(map[int]*memWatcher),
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// lookup walks the tree and returns the subtree at path, or nil.
func (m *MemoryStore) lookup(segments []string) interface{} {
	var node interface{} = m.root
	for _, seg := range segments {
		branch, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = branch[seg]
		if node == nil {
			return nil
		}
	}
	return node
}

// put sets the subtree at path, creating intermediate branches. A nil value
// deletes the path and prunes empty branches on the way back up.
func put(node map[string]interface{}, segments []string, value interface{}) {
	if len(segments) == 1 {
		if value == nil {
			delete(node, segments[0])
		} else {
			node[segments[0]] = value
		}
		return
	}
	child, ok := node[segments[0]].(map[string]interface{})
	if !ok {
		if value == nil {
			return
		}
		child = make(map[string]interface{})
		node[segments[0]] = child
	}
	put(child, segments[1:], value)
	if len(child) == 0 {
		delete(node, segments[0])
	}
}

// normalize round-trips value through JSON so the tree only ever holds
// map[string]interface{}, []interface{}, and scalar leaves.
func normalize(value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return decoded, nil
}

func (m *MemoryStore) Get(ctx context.Context, path string, dest interface{}) error {
	if err := ctx.Err(); err != nil {
		return unavailable("get "+path, err)
	}
	m.mu.Lock()
	node := m.lookup(splitPath(path))
	m.mu.Unlock()
	if node == nil {
		return nil
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return json.Unmarshal(raw, dest)
}

func (m *MemoryStore) Set(ctx context.Context, path string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return unavailable("set "+path, err)
	}
	decoded, err := normalize(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	segments := splitPath(path)
	if len(segments) == 0 {
		return fmt.Errorf("set %s: empty path", path)
	}
	m.mu.Lock()
	put(m.root, segments, decoded)
	m.notifyLocked(path)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete "+path, err)
	}
	segments := splitPath(path)
	if len(segments) == 0 {
		return fmt.Errorf("delete %s: empty path", path)
	}
	m.mu.Lock()
	put(m.root, segments, nil)
	m.notifyLocked(path)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Push(ctx context.Context, path string, value interface{}) (string, error) {
	m.mu.Lock()
	m.pushSeq++
	key := fmt.Sprintf("-%013x%04x", time.Now().UnixMilli(), m.pushSeq&0xffff)
	m.mu.Unlock()
	if err := m.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *MemoryStore) Update(ctx context.Context, path string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return unavailable("update "+path, err)
	}
	segments := splitPath(path)
	if len(segments) == 0 {
		return fmt.Errorf("update %s: empty path", path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current json.RawMessage
	if node := m.lookup(segments); node != nil {
		raw, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("update %s: %w", path, err)
		}
		current = raw
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	var decoded interface{}
	if next != nil {
		decoded, err = normalize(next)
		if err != nil {
			return fmt.Errorf("update %s: %w", path, err)
		}
	}
	put(m.root, segments, decoded)
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Watch(ctx context.Context, path string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("watch "+path, err)
	}
	ch := make(chan Snapshot, 64)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = &memWatcher{path: strings.Trim(path, "/"), ch: ch}
	// Initial snapshot so subscribers start from current state.
	m.deliverLocked(m.watchers[id])
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		if w, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(w.ch)
		}
		m.mu.Unlock()
	}

	stop := make(chan struct{})
	sub := NewSubscription(ch, func() {
		close(stop)
		release()
	})
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-stop:
		}
	}()
	return sub, nil
}

// WatcherCount reports live subscriptions; tests use it to prove teardown
// leaks nothing.
func (m *MemoryStore) WatcherCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

// notifyLocked fans a change at path out to every watcher whose subtree
// overlaps it.
func (m *MemoryStore) notifyLocked(path string) {
	changed := strings.Trim(path, "/")
	for _, w := range m.watchers {
		if overlaps(w.path, changed) {
			m.deliverLocked(w)
		}
	}
}

func (m *MemoryStore) deliverLocked(w *memWatcher) {
	var data json.RawMessage
	if node := m.lookup(splitPath(w.path)); node != nil {
		if raw, err := json.Marshal(node); err == nil {
			data = raw
		}
	}
	snap := Snapshot{Path: w.path, Data: data}
	select {
	case w.ch <- snap:
	default:
		// Slow consumer: evict the oldest queued snapshot so the buffer
		// always ends with current state. Intermediate states may be
		// skipped; the latest never is.
		select {
		case <-w.ch:
		default:
		}
		select {
		case w.ch <- snap:
		default:
		}
	}
}

// overlaps reports whether a change at changed is visible from a watch at
// watched (either path is an ancestor of the other).
func overlaps(watched, changed string) bool {
	if watched == "" || changed == "" {
		return true
	}
	return watched == changed ||
		strings.HasPrefix(changed, watched+"/") ||
		strings.HasPrefix(watched, changed+"/")
}
