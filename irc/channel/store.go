package channel

import (
	"slices"
	"strings"
	"sync"

	"github.com/presbrey/chansync/irc"
)

// Store owns channel lifetime and maps casefolded names to channels.
type Store struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		channels: make(map[string]*Channel),
	}
}

// Find returns the channel called name, or nil.
func (s *Store) Find(name string) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[irc.Casefold(name)]
}

// Acquire returns the channel called name locked, creating it when missing,
// and whether this call created it. A new channel is locked before it
// becomes visible, so no other caller observes it before its creator has
// set it up. A channel destroyed while we waited for its lock is looked up
// again.
func (s *Store) Acquire(name string) (*Channel, bool) {
	key := irc.Casefold(name)
	for {
		s.mu.Lock()
		ch, ok := s.channels[key]
		if !ok {
			ch = newChannel(name)
			ch.Lock()
			s.channels[key] = ch
			s.mu.Unlock()
			return ch, true
		}
		s.mu.Unlock()

		ch.Lock()
		if !ch.dead {
			return ch, false
		}
		ch.Unlock()
	}
}

// Destroy removes ch from the store and marks it dead so holders of a stale
// reference can tell. The caller must hold the channel lock.
func (s *Store) Destroy(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channels[ch.key] == ch {
		delete(s.channels, ch.key)
	}
	ch.dead = true
}

// List returns every channel ordered by lookup key.
func (s *Store) List() []*Channel {
	s.mu.RLock()
	out := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Channel) int {
		return strings.Compare(a.key, b.key)
	})
	return out
}

// Len returns the number of channels.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// Part removes uid from every channel and destroys channels left empty.
// It returns the names of the channels uid was removed from.
func (s *Store) Part(uid string) []string {
	var parted []string
	for _, ch := range s.List() {
		ch.Lock()
		if ch.RemoveMember(uid) {
			parted = append(parted, ch.Name())
			if ch.MemberCount() == 0 {
				s.Destroy(ch)
			}
		}
		ch.Unlock()
	}
	return parted
}
