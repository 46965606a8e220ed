package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is the process-local fallback implementation used when Redis is
// unreachable, grounded in the teacher's core/memory_store.go (expiring
// map-backed cache) generalized to also cover lists, sorted sets and sets so
// a single-node deployment behaves identically to a Redis-backed one
// (spec.md §4.1, §9).
type MemStore struct {
	mu   sync.Mutex
	kv   map[string]kvEntry
	list map[string][]string
	zset map[string]map[string]float64
	set  map[string]map[string]struct{}
}

type kvEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemStore creates an empty process-local store.
func NewMemStore() *MemStore {
	return &MemStore{
		kv:   make(map[string]kvEntry),
		list: make(map[string][]string),
		zset: make(map[string]map[string]float64),
		set:  make(map[string]map[string]struct{}),
	}
}

func (m *MemStore) Degraded() bool { return true }
func (m *MemStore) Close() error   { return nil }

func (m *MemStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := kvEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.kv[key] = e
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.kv, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	delete(m.list, key)
	delete(m.zset, key)
	delete(m.set, key)
	return nil
}

func (m *MemStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.list[key] = append([]string{v}, m.list[key]...)
	}
	return nil
}

func (m *MemStore) RPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list[key] = append(m.list[key], values...)
	return nil
}

func (m *MemStore) LPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.list[key]
	if len(l) == 0 {
		return "", false, nil
	}
	v := l[0]
	m.list[key] = l[1:]
	return v, true, nil
}

func (m *MemStore) RPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.list[key]
	if len(l) == 0 {
		return "", false, nil
	}
	v := l[len(l)-1]
	m.list[key] = l[:len(l)-1]
	return v, true, nil
}

func (m *MemStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.list[key]
	n := int64(len(l))
	if n == 0 {
		return nil, nil
	}
	start, stop = normalizeRange(start, stop, n)
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (m *MemStore) LRem(_ context.Context, key string, count int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.list[key]
	out := l[:0:0]
	removed := int64(0)
	for _, v := range l {
		if v == value && (count <= 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	m.list[key] = out
	return nil
}

func (m *MemStore) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.list[key])), nil
}

func (m *MemStore) ZAdd(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zset[key]
	if !ok {
		z = make(map[string]float64)
		m.zset[key] = z
	}
	z[member] = score
	return nil
}

func (m *MemStore) sortedMembers(key string) []ScoredMember {
	z := m.zset[key]
	out := make([]ScoredMember, 0, len(z))
	for mem, sc := range z {
		out = append(out, ScoredMember{Member: mem, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

func (m *MemStore) ZRangeByRank(_ context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedMembers(key)
	n := int64(len(all))
	if n == 0 {
		return nil, nil
	}
	start, stop = normalizeRange(start, stop, n)
	if start > stop {
		return nil, nil
	}
	out := make([]ScoredMember, stop-start+1)
	copy(out, all[start:stop+1])
	return out, nil
}

func (m *MemStore) ZPopMin(_ context.Context, key string) (ScoredMember, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedMembers(key)
	if len(all) == 0 {
		return ScoredMember{}, false, nil
	}
	min := all[0]
	delete(m.zset[key], min.Member)
	return min, true, nil
}

func (m *MemStore) ZRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if z, ok := m.zset[key]; ok {
		delete(z, member)
	}
	return nil
}

func (m *MemStore) ZRank(_ context.Context, key, member string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedMembers(key)
	for i, sm := range all {
		if sm.Member == member {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (m *MemStore) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zset[key])), nil
}

func (m *MemStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.set[key]
	if !ok {
		s = make(map[string]struct{})
		m.set[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
	return nil
}

func (m *MemStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.set[key]
	for _, mem := range members {
		delete(s, mem)
	}
	return nil
}

func (m *MemStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.set[key][member]
	return ok, nil
}

func (m *MemStore) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.set[key])), nil
}

func (m *MemStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.set[key]))
	for mem := range m.set[key] {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.kv {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) SInter(_ context.Context, keys ...string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(keys) == 0 {
		return nil, nil
	}
	base := m.set[keys[0]]
	out := make([]string, 0, len(base))
	for mem := range base {
		inAll := true
		for _, k := range keys[1:] {
			if _, ok := m.set[k][mem]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, mem)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) Incr(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.kv[key]
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		e = kvEntry{}
	}
	var cur int64
	if e.value != "" {
		parseInt(e.value, &cur)
	}
	cur += delta
	e.value = formatInt(cur)
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.kv[key] = e
	return cur, nil
}

func normalizeRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}
