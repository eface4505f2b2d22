package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	hr "github.com/julienschmidt/httprouter"
	"github.com/spf13/viper"

	"burnafter.io/shout/common/logging"
	tk "burnafter.io/shout/common/token"
	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
)

const (
	errMsgRoomNotFound  = "chat room not found"
	errMsgShoutTooLarge = "shout payload oversized"
)

// createShoutReq is the wire shape shared by the shout creation endpoints.
// Media payloads arrive either as a base64 field (json requests) or as a file
// part (multipart requests).
type createShoutReq struct {
	Type    string `json:"type"`
	MaxHits int    `json:"maxhits"`
	MaxTime int    `json:"maxtime"` // minutes
	Text    string `json:"text"`
	Data    string `json:"data"`
}

type createShoutResp struct {
	Hash      string       `json:"hash"`
	Type      md.ShoutType `json:"type"`
	MaxHits   int          `json:"max_hits"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (wrt *writer) HandleTaskCreateShout() hr.Handle {
	clog := logging.WithFuncName()
	maxReqBodySize := reqBodySizeMax()
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		r.Body = http.MaxBytesReader(w, r.Body, maxReqBodySize)
		req, payload, err := parseCreateShoutReq(r)
		if err != nil {
			clog.WithError(err).Error("error parsing create shout request")
			respErr(w, err)
			return
		}
		sh, err := wrt.buildShout(req, "")
		if err != nil {
			clog.WithError(err).Error("error building shout from input data")
			respErr(w, err)
			return
		}
		if err := wrt.saveShout(sh, payload); err != nil {
			clog.WithError(err).WithField("shoutHash", sh.Hash).Error("error saving shout")
			respErr(w, err)
			return
		}
		respJSON(w, http.StatusCreated, createShoutResp{
			Hash:      sh.Hash,
			Type:      sh.Type,
			MaxHits:   sh.MaxHits,
			ExpiresAt: sh.ExpiresAt,
		})
	}
}

func (wrt *writer) HandleTaskCreateChatRoom() hr.Handle {
	clog := logging.WithFuncName()
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		hash, err := tk.NewRoomHash()
		if err != nil {
			clog.WithError(err).Error("error generating chat room hash")
			respErr(w, err)
			return
		}
		now := wrt.Clk.Now()
		room := &md.ChatRoom{
			Hash:      hash,
			CreatedAt: now,
			ExpiresAt: now.Add(cst.RoomGoodFor),
		}
		if err := wrt.CS.CreateRoom(room); err != nil {
			clog.WithError(err).WithField("roomHash", hash).Error("error creating chat room")
			respErr(w, err)
			return
		}
		respJSON(w, http.StatusCreated, room)
	}
}

func (wrt *writer) HandleTaskPostChatMessage() hr.Handle {
	clog := logging.WithFuncName()
	maxReqBodySize := reqBodySizeMax()
	return func(w http.ResponseWriter, r *http.Request, ps hr.Params) {
		roomHash := ps.ByName("chathash")
		rlog := clog.WithField("roomHash", roomHash)
		if !tk.IsRoomHash(roomHash) {
			rlog.Error("got malformed chat room hash")
			respErr(w, se.NewNotFound(errMsgRoomNotFound))
			return
		}
		room, err := wrt.CS.GetRoom(roomHash)
		if err != nil {
			rlog.WithError(err).Error("error getting chat room")
			respErr(w, err)
			return
		}
		now := wrt.Clk.Now()
		// expiry is checked at access time; no sweeping is involved for rooms
		if room.Expired(now) {
			respErr(w, se.NewRoomExpired("chat room expired"))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxReqBodySize)
		req, payload, err := parseCreateShoutReq(r)
		if err != nil {
			rlog.WithError(err).Error("error parsing chat message request")
			respErr(w, err)
			return
		}
		applyChatDefaults(req)
		sh, err := wrt.buildShout(req, roomHash)
		if err != nil {
			rlog.WithError(err).Error("error building shout from chat message")
			respErr(w, err)
			return
		}
		if err := wrt.saveShout(sh, payload); err != nil {
			rlog.WithError(err).WithField("shoutHash", sh.Hash).Error("error saving chat message shout")
			respErr(w, err)
			return
		}
		msgID, err := tk.NewMessageID()
		if err != nil {
			rlog.WithError(err).Error("error generating chat message id")
			respErr(w, err)
			return
		}
		msg := &md.ChatMessage{
			ID:        msgID,
			RoomHash:  roomHash,
			ShoutHash: sh.Hash,
			PostedAt:  now,
		}
		if err := wrt.CS.AppendMessage(msg); err != nil {
			rlog.WithError(err).Error("error appending chat message")
			respErr(w, err)
			return
		}
		respJSON(w, http.StatusCreated, msg)
	}
}

// HandleAdminCleanup triggers one sweep pass on demand
func (wrt *writer) HandleAdminCleanup() hr.Handle {
	clog := logging.WithFuncName()
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		stats := wrt.Sweeper.RunOnce()
		clog.WithFields(map[string]interface{}{
			"deactivated": stats.Deactivated,
			"reclaimed":   stats.Reclaimed,
			"errors":      stats.Errors,
		}).Info("manual sweep pass done")
		respJSON(w, http.StatusOK, map[string]int{
			"deactivated": stats.Deactivated,
			"reclaimed":   stats.Reclaimed,
			"errors":      stats.Errors,
		})
	}
}

// buildShout validates the request and assembles a shout record pending payload
// persistence. ownerID ties chat message shouts back to their room.
func (wrt *writer) buildShout(req *createShoutReq, ownerID string) (*md.Shout, *se.Err) {
	typ := md.ShoutType(req.Type)
	if !typ.Valid() {
		return nil, se.NewBadInput("invalid shout type")
	}
	if req.MaxHits < cst.MinHits || req.MaxHits > cst.MaxHits {
		return nil, se.NewBadInput("maxhits out of range")
	}
	if req.MaxTime < cst.MinTimeMinutes || req.MaxTime > cst.MaxTimeMinutes {
		return nil, se.NewBadInput("maxtime out of range")
	}
	if typ == md.TypeText {
		if req.Text == "" {
			return nil, se.NewBadInput("text cannot be empty")
		}
		if len(req.Text) > cst.MaxTextBytes {
			return nil, se.NewOversized().WithMsg(errMsgShoutTooLarge)
		}
	}
	hash, err := tk.NewShoutHash()
	if err != nil {
		return nil, err
	}
	now := wrt.Clk.Now()
	return &md.Shout{
		Hash:        hash,
		Type:        typ,
		MaxHits:     req.MaxHits,
		ContentText: req.Text,
		OwnerID:     ownerID,
		Active:      true,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(req.MaxTime) * time.Minute),
	}, nil
}

// saveShout persists the payload bytes first and the record second, so a
// stored record never points at bytes that were never written
func (wrt *writer) saveShout(sh *md.Shout, payload io.Reader) *se.Err {
	if sh.Type != md.TypeText {
		if payload == nil {
			return se.NewBadInput("missing payload data")
		}
		key := wrt.FS.BlobKey(sh.Hash, sh.Type)
		if err := wrt.FS.Save(key, payload, sh.Type.MaxSizeBytes()); err != nil {
			if err.Code == se.ErrCodeOversized {
				return err.WithMsg(errMsgShoutTooLarge)
			}
			return err
		}
		sh.StorageKey = key
	}
	return wrt.SS.Create(sh)
}

// parseCreateShoutReq decodes both wire forms of shout creation: a json body
// with an optional base64 payload, or a multipart form with a file part named
// data for large media uploads.
func parseCreateShoutReq(r *http.Request) (*createShoutReq, io.Reader, *se.Err) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		return parseCreateShoutForm(r)
	}
	req := &createShoutReq{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		if strings.Contains(err.Error(), cst.ErrMsgRequestBodyTooLarge) {
			return nil, nil, se.NewOversized().WithMsg(errMsgShoutTooLarge).WithCause(err)
		}
		return nil, nil, se.NewBadInput("error decoding request body").WithCause(err)
	}
	var payload io.Reader
	if req.Data != "" {
		data, err := decodeBase64Payload(req.Data)
		if err != nil {
			return nil, nil, err
		}
		payload = data
	}
	return req, payload, nil
}

func parseCreateShoutForm(r *http.Request) (*createShoutReq, io.Reader, *se.Err) {
	// large parts spill over to temp files instead of memory
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		if strings.Contains(err.Error(), cst.ErrMsgRequestBodyTooLarge) {
			return nil, nil, se.NewOversized().WithMsg(errMsgShoutTooLarge).WithCause(err)
		}
		return nil, nil, se.NewBadInput("error parsing form data").WithCause(err)
	}
	req := &createShoutReq{
		Type: r.FormValue("type"),
		Text: r.FormValue("text"),
	}
	var err error
	if req.MaxHits, err = strconv.Atoi(r.FormValue("maxhits")); err != nil {
		return nil, nil, se.NewBadInput("invalid maxhits value").WithCause(err)
	}
	if req.MaxTime, err = strconv.Atoi(r.FormValue("maxtime")); err != nil {
		return nil, nil, se.NewBadInput("invalid maxtime value").WithCause(err)
	}
	var payload io.Reader
	if f, _, ferr := r.FormFile("data"); ferr == nil {
		payload = f
	}
	return req, payload, nil
}

// decodeBase64Payload accepts both bare base64 and data-uri payloads like
// data:image/jpeg;base64,...
func decodeBase64Payload(s string) (io.Reader, *se.Err) {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, se.NewBadInput("invalid base64 payload").WithCause(err)
	}
	return bytes.NewReader(data), nil
}

func applyChatDefaults(req *createShoutReq) {
	if req.Type == "" {
		req.Type = string(md.TypeText)
	}
	// chat messages default to a short burn-after window
	if req.MaxHits == 0 {
		req.MaxHits = 10
	}
	if req.MaxTime == 0 {
		req.MaxTime = 5
	}
}

func reqBodySizeMax() int64 {
	if v := viper.GetInt64(cst.EnvReqBodySizeMaxByte); v > 0 {
		return v
	}
	// the largest allowed payload plus form overhead
	return cst.MaxVideoBytes + (1 << 20)
}
