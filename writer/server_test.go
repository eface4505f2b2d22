package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bluele/gcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"burnafter.io/shout/common/clock"
	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
	st "burnafter.io/shout/stores"
	"burnafter.io/shout/sweep"
)

func newTestWriter(now time.Time) (*writer, *st.MemShoutStore, *st.MemChatStore, *st.MemFileStore) {
	ss, cs, fs := st.NewMemShoutStore(), st.NewMemChatStore(), st.NewMemFileStore()
	wrt := &writer{
		SS:  ss,
		CS:  cs,
		FS:  fs,
		Clk: clock.FrozenClock{T: now},
		Sweeper: &sweep.Sweeper{
			SS:             ss,
			FS:             fs,
			Clk:            clock.FrozenClock{T: now},
			MaxLoad:        100,
			ExecPoolSize:   4,
			WIPCache:       gcache.New(64).LRU().Build(),
			WIPEntryExpiry: time.Minute,
		},
	}
	wrt.SetupRoutes()
	return wrt, ss, cs, fs
}

func jsonBody(v interface{}) io.Reader {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return strings.NewReader(string(data))
}

func TestHandleTaskCreateShout_Text(t *testing.T) {
	goodReq := func() map[string]interface{} {
		return map[string]interface{}{
			"type":    "text",
			"maxhits": 3,
			"maxtime": 10,
			"text":    "pssst",
		}
	}
	tcs := []struct {
		name         string
		mutate       func(m map[string]interface{})
		expectedCode int
	}{
		{
			name:         "HappyCase",
			mutate:       func(m map[string]interface{}) {},
			expectedCode: http.StatusCreated,
		},
		{
			name:         "InvalidType",
			mutate:       func(m map[string]interface{}) { m["type"] = "gif" },
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "MaxHitsTooLow",
			mutate:       func(m map[string]interface{}) { m["maxhits"] = 0 },
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "MaxHitsTooHigh",
			mutate:       func(m map[string]interface{}) { m["maxhits"] = 101 },
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "MaxTimeTooLow",
			mutate:       func(m map[string]interface{}) { m["maxtime"] = 0 },
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "MaxTimeTooHigh",
			mutate:       func(m map[string]interface{}) { m["maxtime"] = 1441 },
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "EmptyText",
			mutate:       func(m map[string]interface{}) { m["text"] = "" },
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "OversizedText",
			mutate: func(m map[string]interface{}) {
				m["text"] = strings.Repeat("a", cst.MaxTextBytes+1)
			},
			expectedCode: http.StatusRequestEntityTooLarge,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			// given
			now := time.Now()
			wrt, ss, _, _ := newTestWriter(now)
			body := goodReq()
			c.mutate(body)
			wrec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/shouts", jsonBody(body))
			r.Header.Set("Content-Type", "application/json")
			// when
			wrt.ServeHTTP(wrec, r)
			// then
			assert.Equal(t, c.expectedCode, wrec.Code, "unexpected response status code")
			if c.expectedCode == http.StatusCreated {
				resp := createShoutResp{}
				assert.Nil(t, json.Unmarshal(wrec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Hash)
				sh, err := ss.Get(resp.Hash)
				assert.Nil(t, err)
				assert.True(t, sh.Active)
				assert.Equal(t, 3, sh.MaxHits)
				assert.Equal(t, "pssst", sh.ContentText)
			}
		})
	}
}

func TestHandleTaskCreateShout_PhotoBase64(t *testing.T) {
	now := time.Now()
	wrt, ss, _, fs := newTestWriter(now)
	payload := base64.StdEncoding.EncodeToString([]byte("fake-jpeg-bytes"))
	body := map[string]interface{}{
		"type":    "photo",
		"maxhits": 1,
		"maxtime": 5,
		"data":    "data:image/jpeg;base64," + payload,
	}
	wrec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/shouts", jsonBody(body))
	r.Header.Set("Content-Type", "application/json")

	wrt.ServeHTTP(wrec, r)

	assert.Equal(t, http.StatusCreated, wrec.Code)
	resp := createShoutResp{}
	assert.Nil(t, json.Unmarshal(wrec.Body.Bytes(), &resp))
	sh, err := ss.Get(resp.Hash)
	assert.Nil(t, err)
	assert.Equal(t, md.TypePhoto, sh.Type)
	assert.Equal(t, resp.Hash+".jpeg", sh.StorageKey)
	assert.True(t, fs.Has(sh.StorageKey), "payload bytes must land in file storage")
}

func TestHandleTaskCreateShout_MediaWithoutPayload(t *testing.T) {
	now := time.Now()
	wrt, _, _, _ := newTestWriter(now)
	body := map[string]interface{}{
		"type":    "audio",
		"maxhits": 1,
		"maxtime": 5,
	}
	wrec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/shouts", jsonBody(body))
	r.Header.Set("Content-Type", "application/json")

	wrt.ServeHTTP(wrec, r)
	assert.Equal(t, http.StatusBadRequest, wrec.Code)
}

func TestHandleTaskCreateShout_MultipartUpload(t *testing.T) {
	// given an audio upload as a multipart form
	now := time.Now()
	wrt, ss, _, fs := newTestWriter(now)
	var b strings.Builder
	mp := multipart.NewWriter(&b)
	assert.Nil(t, mp.WriteField("type", "audio"))
	assert.Nil(t, mp.WriteField("maxhits", "2"))
	assert.Nil(t, mp.WriteField("maxtime", "10"))
	fw, err := mp.CreateFormFile("data", "clip.wav")
	assert.Nil(t, err)
	_, err = fw.Write([]byte("fake-wav-bytes"))
	assert.Nil(t, err)
	assert.Nil(t, mp.Close())
	wrec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/shouts", strings.NewReader(b.String()))
	r.Header.Set("Content-Type", mp.FormDataContentType())

	// when
	wrt.ServeHTTP(wrec, r)

	// then
	assert.Equal(t, http.StatusCreated, wrec.Code)
	resp := createShoutResp{}
	assert.Nil(t, json.Unmarshal(wrec.Body.Bytes(), &resp))
	sh, serr := ss.Get(resp.Hash)
	assert.Nil(t, serr)
	assert.Equal(t, resp.Hash+".wav", sh.StorageKey)
	assert.True(t, fs.Has(sh.StorageKey))
}

func TestHandleTaskCreateChatRoom(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	wrt, _, cs, _ := newTestWriter(now)
	wrec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)

	wrt.ServeHTTP(wrec, r)

	assert.Equal(t, http.StatusCreated, wrec.Code)
	room := md.ChatRoom{}
	assert.Nil(t, json.Unmarshal(wrec.Body.Bytes(), &room))
	assert.Len(t, room.Hash, cst.RoomHashLen)
	got, err := cs.GetRoom(room.Hash)
	assert.Nil(t, err)
	// rooms live for a fixed window regardless of input
	assert.Equal(t, now.Add(cst.RoomGoodFor), got.ExpiresAt)
}

func TestHandleTaskPostChatMessage(t *testing.T) {
	now := time.Now()
	roomHash := "a1B2c3D4e5F6g7H8"
	tcs := []struct {
		name         string
		room         *md.ChatRoom
		target       string
		expectedCode int
	}{
		{
			name:         "HappyCase",
			room:         &md.ChatRoom{Hash: roomHash, CreatedAt: now, ExpiresAt: now.Add(cst.RoomGoodFor)},
			target:       roomHash,
			expectedCode: http.StatusCreated,
		},
		{
			name:         "RoomExpired",
			room:         &md.ChatRoom{Hash: roomHash, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)},
			target:       roomHash,
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "UnknownRoom",
			room:         nil,
			target:       "x9Y8z7W6v5U4t3S2",
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "MalformedRoomHash",
			room:         nil,
			target:       "tooshort",
			expectedCode: http.StatusNotFound,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			wrt, ss, cs, _ := newTestWriter(now)
			if c.room != nil {
				assert.Nil(t, cs.CreateRoom(c.room))
			}
			body := map[string]interface{}{"text": "hi there"}
			wrec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/chat/%s/message", c.target), jsonBody(body))
			r.Header.Set("Content-Type", "application/json")

			wrt.ServeHTTP(wrec, r)

			assert.Equal(t, c.expectedCode, wrec.Code, "unexpected response status code")
			if c.expectedCode != http.StatusCreated {
				return
			}
			msg := md.ChatMessage{}
			assert.Nil(t, json.Unmarshal(wrec.Body.Bytes(), &msg))
			assert.Equal(t, c.target, msg.RoomHash)
			// message shouts pick up the chat defaults
			sh, err := ss.Get(msg.ShoutHash)
			assert.Nil(t, err)
			assert.Equal(t, 10, sh.MaxHits)
			assert.Equal(t, now.Add(5*time.Minute).Unix(), sh.ExpiresAt.Unix())
			msgs, err := cs.Messages(c.target)
			assert.Nil(t, err)
			assert.Len(t, msgs, 1)
		})
	}
}

func TestHandleAdminCleanup(t *testing.T) {
	// given one shout already past its deadline
	now := time.Now()
	wrt, ss, _, _ := newTestWriter(now.Add(time.Hour))
	assert.Nil(t, ss.Create(&md.Shout{
		Hash:      "stale-hash",
		Type:      md.TypeText,
		MaxHits:   5,
		Active:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}))
	wrec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/admin/cleanup", nil)

	// when
	wrt.ServeHTTP(wrec, r)

	// then the sweep ran and reported its work
	assert.Equal(t, http.StatusOK, wrec.Code)
	stats := map[string]int{}
	assert.Nil(t, json.Unmarshal(wrec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats["deactivated"])
	sh, err := ss.Get("stale-hash")
	assert.Nil(t, err)
	assert.False(t, sh.Active)
}

// mocks
type MockShoutStore struct{ mock.Mock }

func (m *MockShoutStore) Create(sh *md.Shout) *se.Err {
	return m.Called(sh).Get(0).(*se.Err)
}
func (m *MockShoutStore) Get(hash string) (*md.Shout, *se.Err) {
	args := m.Called(hash)
	return args.Get(0).(*md.Shout), args.Get(1).(*se.Err)
}
func (m *MockShoutStore) Exists(hash string) (bool, *se.Err) {
	args := m.Called(hash)
	return args.Bool(0), args.Get(1).(*se.Err)
}
func (m *MockShoutStore) Claim(hash string, now time.Time) (*md.ClaimOutcome, *se.Err) {
	args := m.Called(hash, now)
	return args.Get(0).(*md.ClaimOutcome), args.Get(1).(*se.Err)
}
func (m *MockShoutStore) MarkExpired(now time.Time, max int) (int, *se.Err) {
	args := m.Called(now, max)
	return args.Int(0), args.Get(1).(*se.Err)
}
func (m *MockShoutStore) Junk(max int) ([]*md.Junk, *se.Err) {
	args := m.Called(max)
	return args.Get(0).([]*md.Junk), args.Get(1).(*se.Err)
}
func (m *MockShoutStore) ClearStorageKey(hash string) *se.Err {
	return m.Called(hash).Get(0).(*se.Err)
}
func (m *MockShoutStore) Close() *se.Err {
	return m.Called().Get(0).(*se.Err)
}

func TestHandleTaskCreateShout_StoreFailure(t *testing.T) {
	// a store outage must surface as a server error, not a silent success
	now := time.Now()
	wrt, _, _, _ := newTestWriter(now)
	mockSS := &MockShoutStore{}
	mockSS.On("Create", mock.AnythingOfType("*models.Shout")).
		Return(se.NewServiceFailure("fake outage"))
	wrt.SS = mockSS
	wrt.SetupRoutes()
	body := map[string]interface{}{
		"type":    "text",
		"maxhits": 1,
		"maxtime": 5,
		"text":    "pssst",
	}
	wrec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/shouts", jsonBody(body))
	r.Header.Set("Content-Type", "application/json")

	wrt.ServeHTTP(wrec, r)

	assert.Equal(t, http.StatusInternalServerError, wrec.Code)
	mockSS.AssertExpectations(t)
}
