package stores

import (
	"fmt"
	"sync"

	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
)

// MemChatStore is an in-process ChatStore for development and tests
type MemChatStore struct {
	mu    sync.Mutex
	rooms map[string]*md.ChatRoom
	msgs  map[string][]*md.ChatMessage
}

func NewMemChatStore() *MemChatStore {
	return &MemChatStore{
		rooms: make(map[string]*md.ChatRoom),
		msgs:  make(map[string][]*md.ChatMessage),
	}
}

func (s *MemChatStore) CreateRoom(r *md.ChatRoom) *se.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rooms[r.Hash] = &cp
	return nil
}

func (s *MemChatStore) GetRoom(hash string) (*md.ChatRoom, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[hash]
	if !ok {
		return nil, se.NewNotFound(fmt.Sprintf("chat room %s not found", hash))
	}
	cp := *r
	return &cp, nil
}

func (s *MemChatStore) AppendMessage(m *md.ChatMessage) *se.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.msgs[m.RoomHash] = append(s.msgs[m.RoomHash], &cp)
	return nil
}

func (s *MemChatStore) Messages(roomHash string) ([]*md.ChatMessage, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.msgs[roomHash]
	out := make([]*md.ChatMessage, len(src))
	for i, m := range src {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (s *MemChatStore) Close() *se.Err {
	return nil
}
