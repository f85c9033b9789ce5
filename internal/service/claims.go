package service

import "sync"

// claimSet records which batch owns each video. A video belongs to at most
// one in-process batch at a time, so only that batch writes its ingest state.
type claimSet struct {
	mu     sync.Mutex
	owners map[uint]string
}

func newClaimSet() *claimSet {
	return &claimSet{owners: make(map[uint]string)}
}

// acquire claims every free id for owner and returns the ids it got.
func (s *claimSet) acquire(owner string, ids []uint) []uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	got := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, taken := s.owners[id]; taken {
			continue
		}
		s.owners[id] = owner
		got = append(got, id)
	}
	return got
}

// release frees the ids still held by owner.
func (s *claimSet) release(owner string, ids []uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if s.owners[id] == owner {
			delete(s.owners, id)
		}
	}
}

func (s *claimSet) held(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.owners[id]
	return ok
}
