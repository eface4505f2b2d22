package stores

import (
	"fmt"
	"sync"
	"time"

	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
)

// MemShoutStore is an in-process ShoutStore for development and tests. One
// mutex guards every lifecycle transition, mirroring the atomicity the redis
// scripts provide.
type MemShoutStore struct {
	mu      sync.Mutex
	shouts  map[string]*md.Shout
	reclaim map[string]struct{}
}

func NewMemShoutStore() *MemShoutStore {
	return &MemShoutStore{
		shouts:  make(map[string]*md.Shout),
		reclaim: make(map[string]struct{}),
	}
}

func (s *MemShoutStore) Create(sh *md.Shout) *se.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sh
	s.shouts[sh.Hash] = &cp
	return nil
}

func (s *MemShoutStore) Get(hash string) (*md.Shout, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shouts[hash]
	if !ok {
		return nil, se.NewNotFound(fmt.Sprintf("shout %s not found", hash))
	}
	cp := *sh
	return &cp, nil
}

func (s *MemShoutStore) Exists(hash string) (bool, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.shouts[hash]
	return ok, nil
}

func (s *MemShoutStore) Claim(hash string, now time.Time) (*md.ClaimOutcome, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shouts[hash]
	if !ok {
		return &md.ClaimOutcome{Reason: cst.ReasonNotFound}, nil
	}
	if !sh.Active {
		return &md.ClaimOutcome{Reason: sh.BurnReason}, nil
	}
	if !now.Before(sh.ExpiresAt) {
		s.burnLocked(sh, cst.ReasonExpired)
		return &md.ClaimOutcome{Reason: cst.ReasonExpired}, nil
	}
	if sh.CurrentHits >= sh.MaxHits {
		s.burnLocked(sh, cst.ReasonExhausted)
		return &md.ClaimOutcome{Reason: cst.ReasonExhausted}, nil
	}
	sh.CurrentHits++
	if sh.CurrentHits >= sh.MaxHits {
		s.burnLocked(sh, cst.ReasonExhausted)
	}
	cp := *sh
	return &md.ClaimOutcome{Granted: true, Shout: &cp}, nil
}

func (s *MemShoutStore) MarkExpired(now time.Time, max int) (int, *se.Err) {
	if max <= 0 {
		return 0, se.NewBadInput(fmt.Sprintf("got non-positive max item count %d", max))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sh := range s.shouts {
		if n >= max {
			break
		}
		if sh.Active && !now.Before(sh.ExpiresAt) {
			s.burnLocked(sh, cst.ReasonExpired)
			n++
		}
	}
	return n, nil
}

func (s *MemShoutStore) Junk(max int) ([]*md.Junk, *se.Err) {
	if max < 0 {
		return nil, se.NewBadInput(fmt.Sprintf("got negative max item count %d", max))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	jks := make([]*md.Junk, 0, len(s.reclaim))
	for hash := range s.reclaim {
		if max > 0 && len(jks) >= max {
			break
		}
		sh, ok := s.shouts[hash]
		if !ok {
			delete(s.reclaim, hash)
			continue
		}
		jks = append(jks, &md.Junk{ShoutHash: hash, StorageKey: sh.StorageKey})
	}
	return jks, nil
}

func (s *MemShoutStore) ClearStorageKey(hash string) *se.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.shouts[hash]; ok {
		sh.StorageKey = ""
	}
	delete(s.reclaim, hash)
	return nil
}

func (s *MemShoutStore) Close() *se.Err {
	return nil
}

// burnLocked flips the shout inactive and queues its payload for reclamation.
// Caller must hold s.mu.
func (s *MemShoutStore) burnLocked(sh *md.Shout, reason string) {
	sh.Active = false
	sh.BurnReason = reason
	if sh.StorageKey != "" {
		s.reclaim[sh.Hash] = struct{}{}
	}
}
