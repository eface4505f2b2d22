// Package token mints and validates the opaque handles shouts and chat rooms
// are addressed by.
package token

import (
	"crypto/rand"

	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	"github.com/segmentio/ksuid"
)

const roomHashAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewShoutHash mints the handle of a new shout. Handles are unguessable and
// carry no information about the content they point to.
func NewShoutHash() (string, *se.Err) {
	kid, err := ksuid.NewRandom()
	if err != nil {
		return "", se.NewServiceFailure("failed generating shout hash").WithCause(err)
	}
	return kid.String(), nil
}

// NewRoomHash mints the handle of a new chat room
func NewRoomHash() (string, *se.Err) {
	buf := make([]byte, cst.RoomHashLen)
	if _, err := rand.Read(buf); err != nil {
		return "", se.NewServiceFailure("failed generating room hash").WithCause(err)
	}
	for i, b := range buf {
		buf[i] = roomHashAlphabet[int(b)%len(roomHashAlphabet)]
	}
	return string(buf), nil
}

// NewMessageID mints the id of a chat message
func NewMessageID() (string, *se.Err) {
	kid, err := ksuid.NewRandom()
	if err != nil {
		return "", se.NewServiceFailure("failed generating message id").WithCause(err)
	}
	return kid.String(), nil
}

// IsShoutHash tells whether s is shaped like a shout handle. It says nothing
// about whether such a shout exists.
func IsShoutHash(s string) bool {
	_, err := ksuid.Parse(s)
	return err == nil
}

// IsRoomHash tells whether s is shaped like a chat room handle
func IsRoomHash(s string) bool {
	if len(s) != cst.RoomHashLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
