package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burnafter.io/shout/common/clock"
	tk "burnafter.io/shout/common/token"
	cst "burnafter.io/shout/constants"
	md "burnafter.io/shout/models"
	st "burnafter.io/shout/stores"
)

func newShoutHash(t *testing.T) string {
	t.Helper()
	h, err := tk.NewShoutHash()
	require.Nil(t, err)
	return h
}

func newRoomHash(t *testing.T) string {
	t.Helper()
	h, err := tk.NewRoomHash()
	require.Nil(t, err)
	return h
}

func newTestReader(now time.Time) *reader {
	gin.SetMode(gin.TestMode)
	r := &reader{
		SS:  st.NewMemShoutStore(),
		CS:  st.NewMemChatStore(),
		FS:  st.NewMemFileStore(),
		AS:  st.NopAuditStore{},
		Clk: clock.FrozenClock{T: now},
	}
	r.SetupRoutes()
	return r
}

func doGet(r *reader, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.Router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func seedShout(t *testing.T, r *reader, sh *md.Shout) *md.Shout {
	t.Helper()
	if sh.Hash == "" {
		sh.Hash = newShoutHash(t)
	}
	require.Nil(t, r.SS.Create(sh))
	return sh
}

func TestHandleTaskGetShout_TextClaims(t *testing.T) {
	// given a text shout allowing two views
	now := time.Now()
	r := newTestReader(now)
	sh := seedShout(t, r, &md.Shout{
		Type:        md.TypeText,
		MaxHits:     2,
		ContentText: "see you at noon",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		Active:      true,
	})

	// when claiming the first view then the content comes back
	rec := doGet(r, "/api/shouts/"+sh.Hash)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "see you at noon", body["content"])
	assert.Equal(t, float64(1), body["current_hits"])

	// when claiming the second view then it still succeeds
	rec = doGet(r, "/api/shouts/"+sh.Hash)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["current_hits"])

	// when claiming past the limit then the view is denied as exhausted
	rec = doGet(r, "/api/shouts/"+sh.Hash)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, cst.ReasonExhausted, decodeBody(t, rec)["reason"])
}

func TestHandleTaskGetShout_Denials(t *testing.T) {
	now := time.Now()
	r := newTestReader(now)
	expired := seedShout(t, r, &md.Shout{
		Type:        md.TypeText,
		MaxHits:     1,
		ContentText: "too late",
		CreatedAt:   now.Add(-2 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
		Active:      true,
	})
	cases := []struct {
		name       string
		hash       string
		wantReason string
	}{
		{name: "MalformedHash", hash: "not-a-hash", wantReason: cst.ReasonNotFound},
		{name: "UnknownHash", hash: newShoutHash(t), wantReason: cst.ReasonNotFound},
		{name: "ExpiredShout", hash: expired.Hash, wantReason: cst.ReasonExpired},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := doGet(r, "/api/shouts/"+c.hash)
			require.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, c.wantReason, decodeBody(t, rec)["reason"])
		})
	}
}

func TestHandleTaskGetShout_PreviewDoesNotConsume(t *testing.T) {
	// given a single-view text shout
	now := time.Now()
	r := newTestReader(now)
	sh := seedShout(t, r, &md.Shout{
		Type:        md.TypeText,
		MaxHits:     1,
		ContentText: "secret",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		Active:      true,
	})

	// when previewing it repeatedly
	for i := 0; i < 3; i++ {
		rec := doGet(r, "/api/shouts/"+sh.Hash+"?preview=1")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		// then no view is consumed and the content stays hidden
		assert.Equal(t, float64(0), body["current_hits"])
		assert.NotContains(t, body, "content")
		assert.NotContains(t, body, "content_text")
	}

	// and the single real claim still succeeds afterwards
	rec := doGet(r, "/api/shouts/"+sh.Hash)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTaskGetShout_MediaURL(t *testing.T) {
	// given a video shout whose payload sits in file storage
	now := time.Now()
	r := newTestReader(now)
	hash := newShoutHash(t)
	key := r.FS.BlobKey(hash, md.TypeVideo)
	require.Nil(t, r.FS.Save(key, strings.NewReader("movie-bytes"), md.TypeVideo.MaxSizeBytes()))
	seedShout(t, r, &md.Shout{
		Hash:       hash,
		Type:       md.TypeVideo,
		MaxHits:    5,
		StorageKey: key,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		Active:     true,
	})

	// when claiming a view then the response points at the stream endpoint
	rec := doGet(r, "/api/shouts/"+hash)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, fmt.Sprintf("/api/shouts/%s/stream", hash), body["media_url"])
	assert.NotContains(t, body, "content")
}

func TestHandleTaskCheckShout(t *testing.T) {
	now := time.Now()
	r := newTestReader(now)
	live := seedShout(t, r, &md.Shout{
		Type:        md.TypeText,
		MaxHits:     1,
		ContentText: "still here",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		Active:      true,
	})
	expired := seedShout(t, r, &md.Shout{
		Type:        md.TypeText,
		MaxHits:     1,
		ContentText: "gone",
		CreatedAt:   now.Add(-2 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
		Active:      true,
	})
	spent := seedShout(t, r, &md.Shout{
		Type:        md.TypeText,
		MaxHits:     1,
		ContentText: "used up",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		Active:      true,
	})
	require.Equal(t, http.StatusOK, doGet(r, "/api/shouts/"+spent.Hash).Code)

	cases := []struct {
		name       string
		hash       string
		wantValid  bool
		wantReason string
	}{
		{name: "LiveShout", hash: live.Hash, wantValid: true},
		{name: "ExpiredShout", hash: expired.Hash, wantReason: cst.ReasonExpired},
		{name: "ExhaustedShout", hash: spent.Hash, wantReason: cst.ReasonExhausted},
		{name: "UnknownShout", hash: newShoutHash(t), wantReason: cst.ReasonNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := doGet(r, fmt.Sprintf("/api/shouts/%s/check", c.hash))
			require.Equal(t, http.StatusOK, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, c.wantValid, body["valid"])
			if !c.wantValid {
				assert.Equal(t, c.wantReason, body["reason"])
			}
		})
	}

	// checking consumes no views
	rec := doGet(r, "/api/shouts/"+live.Hash)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["current_hits"])
}

func TestHandleTaskStreamShout(t *testing.T) {
	// given an audio shout with stored payload
	now := time.Now()
	r := newTestReader(now)
	hash := newShoutHash(t)
	key := r.FS.BlobKey(hash, md.TypeAudio)
	require.Nil(t, r.FS.Save(key, strings.NewReader("wav-bytes"), md.TypeAudio.MaxSizeBytes()))
	seedShout(t, r, &md.Shout{
		Hash:       hash,
		Type:       md.TypeAudio,
		MaxHits:    1,
		StorageKey: key,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		Active:     true,
	})

	// when streaming then the payload bytes come back untouched
	rec := doGet(r, fmt.Sprintf("/api/shouts/%s/stream", hash))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "wav-bytes", rec.Body.String())

	// and streaming consumes no views - the claim below is the first
	rec = doGet(r, "/api/shouts/"+hash)
	require.Equal(t, http.StatusOK, rec.Code)

	// when the payload has been reclaimed then streaming turns 404 with the burn reason
	require.Nil(t, r.FS.Delete(key))
	require.Nil(t, r.SS.ClearStorageKey(hash))
	rec = doGet(r, fmt.Sprintf("/api/shouts/%s/stream", hash))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, cst.ReasonExhausted, decodeBody(t, rec)["reason"])
}

func TestHandleTaskGetChatRoom(t *testing.T) {
	now := time.Now()
	r := newTestReader(now)
	live := &md.ChatRoom{Hash: newRoomHash(t), CreatedAt: now, ExpiresAt: now.Add(cst.RoomGoodFor)}
	dead := &md.ChatRoom{Hash: newRoomHash(t), CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-55 * time.Minute)}
	require.Nil(t, r.CS.CreateRoom(live))
	require.Nil(t, r.CS.CreateRoom(dead))

	cases := []struct {
		name       string
		hash       string
		wantCode   int
		wantReason string
	}{
		{name: "LiveRoom", hash: live.Hash, wantCode: http.StatusOK},
		{name: "ExpiredRoom", hash: dead.Hash, wantCode: http.StatusNotFound, wantReason: cst.ReasonExpired},
		{name: "UnknownRoom", hash: newRoomHash(t), wantCode: http.StatusNotFound, wantReason: cst.ReasonNotFound},
		{name: "MalformedHash", hash: "nope", wantCode: http.StatusNotFound, wantReason: cst.ReasonNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := doGet(r, "/api/chat/"+c.hash)
			require.Equal(t, c.wantCode, rec.Code)
			body := decodeBody(t, rec)
			if c.wantCode == http.StatusOK {
				assert.Equal(t, c.hash, body["hash"])
			} else {
				assert.Equal(t, c.wantReason, body["reason"])
			}
		})
	}
}

func TestHandleTaskListChatMessages(t *testing.T) {
	// given a room with a live message, a burnt one and one whose shout vanished
	now := time.Now()
	r := newTestReader(now)
	room := &md.ChatRoom{Hash: newRoomHash(t), CreatedAt: now, ExpiresAt: now.Add(cst.RoomGoodFor)}
	require.Nil(t, r.CS.CreateRoom(room))

	alive := seedShout(t, r, &md.Shout{
		Type: md.TypeText, MaxHits: 10, ContentText: "hi", OwnerID: room.Hash,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), Active: true,
	})
	burnt := seedShout(t, r, &md.Shout{
		Type: md.TypeText, MaxHits: 1, ContentText: "bye", OwnerID: room.Hash,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), Active: true,
	})
	require.Equal(t, http.StatusOK, doGet(r, "/api/shouts/"+burnt.Hash).Code)
	goneHash := newShoutHash(t)
	for _, sh := range []string{alive.Hash, burnt.Hash, goneHash} {
		id, err := tk.NewMessageID()
		require.Nil(t, err)
		require.Nil(t, r.CS.AppendMessage(&md.ChatMessage{
			ID: id, RoomHash: room.Hash, ShoutHash: sh, PostedAt: now,
		}))
	}

	// when listing the room timeline
	rec := doGet(r, fmt.Sprintf("/api/chat/%s/messages", room.Hash))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Hash     string           `json:"hash"`
		Messages []md.MessageView `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	// then every message stays listed in insertion order, dead shouts included
	require.Len(t, body.Messages, 3)
	assert.Equal(t, alive.Hash, body.Messages[0].ShoutHash)
	require.NotNil(t, body.Messages[0].Shout)
	assert.True(t, body.Messages[0].Shout.Active)
	require.NotNil(t, body.Messages[1].Shout)
	assert.False(t, body.Messages[1].Shout.Active)
	assert.Equal(t, 1, body.Messages[1].Shout.CurrentHits)
	assert.Equal(t, goneHash, body.Messages[2].ShoutHash)
	assert.Nil(t, body.Messages[2].Shout)
}

func TestHandleUtilQRCode(t *testing.T) {
	r := newTestReader(time.Now())

	// when encoding a shout link then a png comes back
	rec := doGet(r, "/api/utils/qr?data="+newShoutHash(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	// when the data parameter is missing then the request is rejected
	rec = doGet(r, "/api/utils/qr")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// when the data parameter is oversized then the request is rejected
	rec = doGet(r, "/api/utils/qr?data="+strings.Repeat("a", qrDataMaxBytes+1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUtilHealth(t *testing.T) {
	rec := doGet(newTestReader(time.Now()), "/api/utils/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
