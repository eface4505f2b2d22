package stores

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"

	"burnafter.io/shout/common/logging"
	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
)

// ChatStore vends the interface to interact with chat rooms and their message
// timelines. Room expiry is enforced at read time by callers; the store itself
// never refuses writes or reads on age.
type ChatStore interface {
	CreateRoom(r *md.ChatRoom) *se.Err
	GetRoom(hash string) (*md.ChatRoom, *se.Err)
	// AppendMessage adds m to the tail of its room's timeline. Insertion order
	// is the only ordering the timeline has.
	AppendMessage(m *md.ChatMessage) *se.Err
	// Messages returns the room's timeline in insertion order, dead shouts included
	Messages(roomHash string) ([]*md.ChatMessage, *se.Err)
	Close() *se.Err
}

const (
	fieldNameRoomCreatedAt = "createdAt"
	fieldNameRoomExpiresAt = "expiresAt"

	// templates to form redis keys of a chat room record and its message timeline
	keyTmplChatRoom = `chat.%s`
	keyTmplChatMsgs = `chat.%s.msgs`
)

// RedisChatStore is a ChatStore implementation driven by Redis
type RedisChatStore struct {
	DB *redis.Client
}

func (s *RedisChatStore) CreateRoom(r *md.ChatRoom) *se.Err {
	const errMsg = "error creating chat room"
	clog := logging.WithFuncName().WithField("roomHash", r.Hash)
	key := chatRoomKey(r.Hash)
	if _, err := s.DB.HMSet(key, map[string]interface{}{
		fieldNameRoomCreatedAt: r.CreatedAt.Unix(),
		fieldNameRoomExpiresAt: r.ExpiresAt.Unix(),
	}).Result(); err != nil {
		clog.WithError(err).Error("error caching chat room record in redis")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	// expired rooms linger under retention so reads can tell expired from unknown
	if _, err := s.DB.Expire(key, cst.RecordRetention).Result(); err != nil {
		clog.WithError(err).Error("error setting chat room retention")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	return nil
}

func (s *RedisChatStore) GetRoom(hash string) (*md.ChatRoom, *se.Err) {
	clog := logging.WithFuncName().WithField("roomHash", hash)
	m, err := s.DB.HGetAll(chatRoomKey(hash)).Result()
	if err != nil {
		msg := "error getting chat room record"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	if len(m) == 0 {
		return nil, se.NewNotFound(fmt.Sprintf("chat room %s not found", hash))
	}
	r := &md.ChatRoom{Hash: hash}
	createdAt, perr := strconv.ParseInt(m[fieldNameRoomCreatedAt], 10, 64)
	if perr != nil {
		msg := "error unmarshalling chat room creation time"
		clog.WithError(perr).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(perr)
	}
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	expiresAt, perr := strconv.ParseInt(m[fieldNameRoomExpiresAt], 10, 64)
	if perr != nil {
		msg := "error unmarshalling chat room expiry"
		clog.WithError(perr).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(perr)
	}
	r.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return r, nil
}

func (s *RedisChatStore) AppendMessage(m *md.ChatMessage) *se.Err {
	clog := logging.WithFuncName().WithField("roomHash", m.RoomHash)
	data, err := json.Marshal(m)
	if err != nil {
		msg := "error marshalling chat message to json"
		clog.WithError(err).Error(msg)
		return se.NewServiceFailure(msg).WithCause(err)
	}
	key := chatMsgsKey(m.RoomHash)
	// RPUSH keeps the timeline in append order
	if _, err := s.DB.RPush(key, data).Result(); err != nil {
		msg := "error appending chat message in redis"
		clog.WithError(err).Error(msg)
		return se.NewServiceFailure(msg).WithCause(err)
	}
	if _, err := s.DB.Expire(key, cst.RecordRetention).Result(); err != nil {
		msg := "error setting chat timeline retention"
		clog.WithError(err).Error(msg)
		return se.NewServiceFailure(msg).WithCause(err)
	}
	return nil
}

func (s *RedisChatStore) Messages(roomHash string) ([]*md.ChatMessage, *se.Err) {
	clog := logging.WithFuncName().WithField("roomHash", roomHash)
	raw, err := s.DB.LRange(chatMsgsKey(roomHash), 0, -1).Result()
	if err != nil {
		msg := "error listing chat messages"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	msgs := make([]*md.ChatMessage, 0, len(raw))
	for _, item := range raw {
		m := &md.ChatMessage{}
		if err := json.Unmarshal([]byte(item), m); err != nil {
			msg := "error unmarshalling chat message"
			clog.WithError(err).Error(msg)
			return nil, se.NewServiceFailure(msg).WithCause(err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisChatStore) Close() *se.Err {
	if err := s.DB.Close(); err != nil {
		return se.NewServiceFailure("failed close redis client").WithCause(err)
	}
	return nil
}

func chatRoomKey(hash string) string {
	return fmt.Sprintf(keyTmplChatRoom, hash)
}

func chatMsgsKey(hash string) string {
	return fmt.Sprintf(keyTmplChatMsgs, hash)
}
