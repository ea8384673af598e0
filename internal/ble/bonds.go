package ble

import "sync"

// MaxBonds is the capacity of the bonded peer set.
const MaxBonds = 8

// MemoryBondStore keeps bonds in memory, evicting the oldest peer beyond MaxBonds.
type MemoryBondStore struct {
	mu    sync.Mutex
	peers []Address
}

func NewMemoryBondStore() *MemoryBondStore {
	return &MemoryBondStore{}
}

func (s *MemoryBondStore) Peers() ([]Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Address(nil), s.peers...), nil
}

func (s *MemoryBondStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers), nil
}

// Add stores peer as the newest bond. Re-adding a known peer refreshes it.
func (s *MemoryBondStore) Add(peer Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.peers {
		if p == peer {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			break
		}
	}
	s.peers = append(s.peers, peer)
	if len(s.peers) > MaxBonds {
		s.peers = s.peers[len(s.peers)-MaxBonds:]
	}
	return nil
}

func (s *MemoryBondStore) DeleteAll() error {
	s.mu.Lock()
	s.peers = nil
	s.mu.Unlock()
	return nil
}
