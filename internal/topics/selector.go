// Package topics implements anti-repeat topic selection over a finite
// per-channel topic pool.
//
// Selection prefers topics never used before; otherwise it picks uniformly at
// random among the topics tied for the lowest use count. Random tie-breaking
// (rather than least-recently-used) avoids starving equally stale topics.
package topics

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrNoTopics is returned when the supplied pool is empty.
var ErrNoTopics = errors.New("no topics available")

// Usage records how often and when a topic was selected.
type Usage struct {
	UseCount   int
	LastUsedAt time.Time
}

// Selector tracks per-channel topic usage.
type Selector struct {
	mu sync.Mutex

	now   func() time.Time
	rng   *rand.Rand
	usage map[string]map[string]Usage // channel -> topic -> usage
}

func New() *Selector {
	return &Selector{
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		usage: map[string]map[string]Usage{},
	}
}

// SetNow overrides the clock. Test hook.
func (s *Selector) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetSeed makes selection deterministic. Test hook.
func (s *Selector) SetSeed(seed int64) {
	s.mu.Lock()
	s.rng = rand.New(rand.NewSource(seed))
	s.mu.Unlock()
}

// Select picks a topic from pool for the channel.
//
// Priority: never-used topics first; otherwise the topics tied for the
// minimum use count. Ties are broken uniformly at random.
func (s *Selector) Select(channelID string, pool []string) (string, error) {
	if len(pool) == 0 {
		return "", ErrNoTopics
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.usage[channelID]

	var unused []string
	for _, topic := range pool {
		if _, ok := used[topic]; !ok {
			unused = append(unused, topic)
		}
	}
	if len(unused) > 0 {
		return unused[s.rng.Intn(len(unused))], nil
	}

	minCount := -1
	var least []string
	for _, topic := range pool {
		u := used[topic]
		switch {
		case minCount < 0 || u.UseCount < minCount:
			minCount = u.UseCount
			least = least[:0]
			least = append(least, topic)
		case u.UseCount == minCount:
			least = append(least, topic)
		}
	}
	return least[s.rng.Intn(len(least))], nil
}

// RecordUsage bumps the topic's use count. Called once per selection, even if
// downstream generation or publish later fails: consuming freshness on
// failure prevents hot-looping the same topic.
func (s *Selector) RecordUsage(channelID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.usage[channelID]
	if !ok {
		m = map[string]Usage{}
		s.usage[channelID] = m
	}
	u := m[topic]
	u.UseCount++
	u.LastUsedAt = s.now()
	m[topic] = u
}

// UsageSnapshot returns a copy of the channel's usage map, for persistence.
func (s *Selector) UsageSnapshot(channelID string) map[string]Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.usage[channelID]
	if len(m) == 0 {
		return nil
	}
	cp := make(map[string]Usage, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Seed replaces a channel's usage map, typically from the state store.
func (s *Selector) Seed(channelID string, usage map[string]Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(usage) == 0 {
		delete(s.usage, channelID)
		return
	}
	cp := make(map[string]Usage, len(usage))
	for k, v := range usage {
		cp[k] = v
	}
	s.usage[channelID] = cp
}
