package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewShoutHash(t *testing.T) {
	h1, err := NewShoutHash()
	assert.Nil(t, err)
	h2, err := NewShoutHash()
	assert.Nil(t, err)
	assert.NotEqual(t, h1, h2, "shout hashes must not collide")
	assert.True(t, IsShoutHash(h1))
}

func TestNewRoomHash(t *testing.T) {
	h1, err := NewRoomHash()
	assert.Nil(t, err)
	h2, err := NewRoomHash()
	assert.Nil(t, err)
	assert.NotEqual(t, h1, h2, "room hashes must not collide")
	assert.Len(t, h1, 16)
	assert.True(t, IsRoomHash(h1))
}

func TestIsRoomHash(t *testing.T) {
	tcs := []struct {
		name     string
		in       string
		expected bool
	}{
		{name: "valid", in: "a1B2c3D4e5F6g7H8", expected: true},
		{name: "tooShort", in: "a1B2c3D4", expected: false},
		{name: "tooLong", in: "a1B2c3D4e5F6g7H8x", expected: false},
		{name: "badRune", in: "a1B2c3D4e5F6g7H!", expected: false},
		{name: "empty", in: "", expected: false},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, IsRoomHash(c.in), "unexpected room hash validity")
		})
	}
}
