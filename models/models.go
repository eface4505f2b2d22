package models

import (
	"time"

	cst "burnafter.io/shout/constants"
)

/*
 Application layer data models.
*/

// ShoutType tells what kind of content a shout carries. Text shouts embed their
// payload in the record itself; every other type keeps its bytes in file storage.
type ShoutType string

const (
	TypeText  ShoutType = "text"
	TypeAudio ShoutType = "audio"
	TypeVideo ShoutType = "video"
	TypePhoto ShoutType = "photo"
)

var shoutTypeVals = map[ShoutType]struct{}{
	TypeText:  {},
	TypeAudio: {},
	TypeVideo: {},
	TypePhoto: {},
}

func (t ShoutType) Valid() bool {
	_, ok := shoutTypeVals[t]
	return ok
}

// Ext returns the file extension used to form the storage key of a shout's
// payload. Text shouts have no storage payload.
func (t ShoutType) Ext() string {
	switch t {
	case TypeAudio:
		return ".wav"
	case TypeVideo:
		return ".mp4"
	case TypePhoto:
		return ".jpeg"
	default:
		return ""
	}
}

// MaxSizeBytes returns the payload size cap for the type.
func (t ShoutType) MaxSizeBytes() int64 {
	switch t {
	case TypeText:
		return cst.MaxTextBytes
	case TypePhoto:
		return cst.MaxPhotoBytes
	case TypeAudio:
		return cst.MaxAudioBytes
	case TypeVideo:
		return cst.MaxVideoBytes
	default:
		return 0
	}
}

// Shout is one unit of ephemeral content with its own view and time limits.
type Shout struct {
	Hash        string    `json:"hash"`
	Type        ShoutType `json:"type"`
	MaxHits     int       `json:"max_hits"`
	CurrentHits int       `json:"current_hits"`
	// ContentText holds the payload of text shouts; empty for media shouts
	ContentText string `json:"content_text,omitempty"`
	// StorageKey references the payload bytes in file storage for media shouts.
	// Cleared exactly once, by reclamation, after the bytes are confirmed gone.
	StorageKey string    `json:"storage_key,omitempty"`
	OwnerID    string    `json:"owner_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	// Active flips false exactly once - when a claim exhausts MaxHits or when
	// the TTL is observed to have passed. It never flips back.
	Active bool `json:"is_active"`
	// BurnReason records why the shout went inactive: ReasonExpired or ReasonExhausted
	BurnReason string `json:"burn_reason,omitempty"`
}

// Live reports whether the shout's content may still be served as of now.
// Evaluated at the instant of claim, never cached.
func (s *Shout) Live(now time.Time) bool {
	return s.Active && s.CurrentHits < s.MaxHits && now.Before(s.ExpiresAt)
}

// Expired reports whether the shout's time limit has passed as of now.
func (s *Shout) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ClaimOutcome is the result of one claim attempt against a shout. When
// granted, Shout carries the post-increment snapshot taken in the same atomic
// step as the increment.
type ClaimOutcome struct {
	Granted bool
	// Reason is set when denied: one of cst.ReasonNotFound, cst.ReasonExpired,
	// cst.ReasonExhausted
	Reason string
	Shout  *Shout
}

// Junk represents an inactive shout whose payload bytes still await reclamation
type Junk struct {
	ShoutHash  string
	StorageKey string
}

// ChatRoom groups shouts under a short-lived handle. Its expiry is a fixed
// policy and independent of any member shout's lifetime.
type ChatRoom struct {
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired is a pure read-time predicate; rooms carry no counters so there is
// no deactivation flag to race on.
func (r *ChatRoom) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ChatMessage points a room at a shout. The shout keeps its own lifecycle;
// listing a room does not filter out messages whose shout has since burned.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomHash  string    `json:"room_hash"`
	ShoutHash string    `json:"shout_hash"`
	PostedAt  time.Time `json:"posted_at"`
}

// ShoutSummary vends the subset of shout data safe to show in a room listing
type ShoutSummary struct {
	Hash        string    `json:"hash"`
	Type        ShoutType `json:"type"`
	MaxHits     int       `json:"max_hits"`
	CurrentHits int       `json:"current_hits"`
	Active      bool      `json:"is_active"`
}

// MessageView joins a chat message with its shout summary for display
type MessageView struct {
	ChatMessage
	Shout *ShoutSummary `json:"shout,omitempty"`
}

// ClaimAttempt is one audit record of a claim. Append-only telemetry; never
// consulted for liveness decisions.
type ClaimAttempt struct {
	ID        string    `json:"_id,omitempty"`
	ShoutHash string    `json:"shout_hash"`
	ClientIP  string    `json:"client_ip"`
	UserAgent string    `json:"user_agent"`
	Outcome   string    `json:"outcome"`
	At        time.Time `json:"at"`
}
