package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"burnafter.io/shout/common/logging"
	tk "burnafter.io/shout/common/token"
	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
)

const qrDataMaxBytes = 2048

// shoutView is what a granted claim hands back. Text and photo payloads ride
// inline; audio and video get a streaming location since their payloads are
// too large to inline sensibly.
type shoutView struct {
	Hash        string       `json:"hash"`
	Type        md.ShoutType `json:"type"`
	MaxHits     int          `json:"max_hits"`
	CurrentHits int          `json:"current_hits"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Content     string       `json:"content,omitempty"`
	MediaURL    string       `json:"media_url,omitempty"`
}

// HandleTaskGetShout consumes one view of the shout and returns its content.
// With ?preview=1 it returns record metadata only, without touching the counter
// or exposing the content.
func (r *reader) HandleTaskGetShout(c *gin.Context) {
	clog := logging.WithFuncName()
	hash := c.Param("hash")
	hlog := clog.WithField("shoutHash", hash)
	if !tk.IsShoutHash(hash) {
		c.JSON(http.StatusNotFound, gin.H{"reason": cst.ReasonNotFound})
		return
	}
	if c.Query("preview") == "1" {
		sh, err := r.SS.Get(hash)
		if err != nil {
			respStoreErr(c, hlog, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"hash":         sh.Hash,
			"type":         sh.Type,
			"max_hits":     sh.MaxHits,
			"current_hits": sh.CurrentHits,
			"is_active":    sh.Active,
			"expires_at":   sh.ExpiresAt,
		})
		return
	}
	now := r.Clk.Now()
	oc, err := r.SS.Claim(hash, now)
	if err != nil {
		hlog.WithError(err).Error("error claiming shout view")
		c.JSON(http.StatusInternalServerError, gin.H{"reason": cst.ReasonError})
		return
	}
	r.audit(c, hash, now, oc)
	if !oc.Granted {
		c.JSON(http.StatusNotFound, gin.H{"reason": oc.Reason})
		return
	}
	view := shoutView{
		Hash:        oc.Shout.Hash,
		Type:        oc.Shout.Type,
		MaxHits:     oc.Shout.MaxHits,
		CurrentHits: oc.Shout.CurrentHits,
		ExpiresAt:   oc.Shout.ExpiresAt,
	}
	switch oc.Shout.Type {
	case md.TypeText:
		view.Content = oc.Shout.ContentText
	case md.TypePhoto:
		content, err := r.inlinePhoto(oc.Shout)
		if err != nil {
			hlog.WithError(err).Error("error inlining photo payload")
			c.JSON(http.StatusInternalServerError, gin.H{"reason": cst.ReasonError})
			return
		}
		view.Content = content
	default:
		view.MediaURL = fmt.Sprintf("/api/shouts/%s/stream", oc.Shout.Hash)
	}
	c.JSON(http.StatusOK, view)
}

// HandleTaskCheckShout reports whether a claim would currently succeed, without
// consuming a view
func (r *reader) HandleTaskCheckShout(c *gin.Context) {
	clog := logging.WithFuncName()
	hash := c.Param("hash")
	if !tk.IsShoutHash(hash) {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": cst.ReasonNotFound})
		return
	}
	sh, err := r.SS.Get(hash)
	if err != nil {
		if err.Code == se.ErrCodeNotFound {
			c.JSON(http.StatusOK, gin.H{"valid": false, "reason": cst.ReasonNotFound})
			return
		}
		clog.WithError(err).WithField("shoutHash", hash).Error("error getting shout record")
		c.JSON(http.StatusInternalServerError, gin.H{"reason": cst.ReasonError})
		return
	}
	now := r.Clk.Now()
	switch {
	case !sh.Active:
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": sh.BurnReason})
	case sh.Expired(now):
		// deadline passed but no claim or sweep observed it yet
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": cst.ReasonExpired})
	case sh.CurrentHits >= sh.MaxHits:
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": cst.ReasonExhausted})
	default:
		c.JSON(http.StatusOK, gin.H{"valid": true})
	}
}

// HandleTaskStreamShout serves the payload bytes of an audio or video shout
// whose view was just granted. It consumes no views itself; once the payload
// is reclaimed it turns 404.
func (r *reader) HandleTaskStreamShout(c *gin.Context) {
	clog := logging.WithFuncName()
	hash := c.Param("hash")
	hlog := clog.WithField("shoutHash", hash)
	if !tk.IsShoutHash(hash) {
		c.JSON(http.StatusNotFound, gin.H{"reason": cst.ReasonNotFound})
		return
	}
	sh, err := r.SS.Get(hash)
	if err != nil {
		respStoreErr(c, hlog, err)
		return
	}
	if sh.StorageKey == "" {
		reason := sh.BurnReason
		if reason == "" {
			reason = cst.ReasonNotFound
		}
		c.JSON(http.StatusNotFound, gin.H{"reason": reason})
		return
	}
	rc, err := r.FS.Get(sh.StorageKey)
	if err != nil {
		respStoreErr(c, hlog.WithField("storageKey", sh.StorageKey), err)
		return
	}
	defer rc.Close()
	c.Header("Content-Type", mediaContentType(sh.Type))
	c.Status(http.StatusOK)
	if n, cerr := io.Copy(c.Writer, rc); cerr != nil {
		hlog.WithError(cerr).Error("error sending payload data to requester")
	} else {
		hlog.WithField("bytesWritten", n).Debug("payload sent to requester")
	}
}

func (r *reader) HandleTaskGetChatRoom(c *gin.Context) {
	room, ok := r.liveRoom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, room)
}

// HandleTaskListChatMessages returns the room's timeline in insertion order.
// Messages whose shout has burnt or vanished stay listed; their summary shows
// the shout as inactive or is omitted entirely.
func (r *reader) HandleTaskListChatMessages(c *gin.Context) {
	clog := logging.WithFuncName()
	room, ok := r.liveRoom(c)
	if !ok {
		return
	}
	msgs, err := r.CS.Messages(room.Hash)
	if err != nil {
		clog.WithError(err).WithField("roomHash", room.Hash).Error("error listing chat messages")
		c.JSON(http.StatusInternalServerError, gin.H{"reason": cst.ReasonError})
		return
	}
	views := make([]md.MessageView, 0, len(msgs))
	for _, m := range msgs {
		view := md.MessageView{ChatMessage: *m}
		sh, err := r.SS.Get(m.ShoutHash)
		if err == nil {
			view.Shout = &md.ShoutSummary{
				Hash:        sh.Hash,
				Type:        sh.Type,
				MaxHits:     sh.MaxHits,
				CurrentHits: sh.CurrentHits,
				Active:      sh.Active,
			}
		} else if err.Code != se.ErrCodeNotFound {
			clog.WithError(err).WithField("shoutHash", m.ShoutHash).Error("error getting message shout")
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"hash": room.Hash, "messages": views})
}

// HandleUtilQRCode renders the given data, typically a shout link, as a QR png
func (r *reader) HandleUtilQRCode(c *gin.Context) {
	data := c.Query("data")
	if data == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing data parameter"})
		return
	}
	if len(data) > qrDataMaxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data parameter too long"})
		return
	}
	png, err := qrcode.Encode(data, qrcode.Medium, 256)
	if err != nil {
		logging.WithFuncName().WithError(err).Error("error encoding qr code")
		c.JSON(http.StatusInternalServerError, gin.H{"reason": cst.ReasonError})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (r *reader) HandleUtilHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// liveRoom resolves the room in the request path and enforces its expiry.
// It writes the error response itself when the room is unusable.
func (r *reader) liveRoom(c *gin.Context) (*md.ChatRoom, bool) {
	clog := logging.WithFuncName()
	hash := c.Param("chathash")
	if !tk.IsRoomHash(hash) {
		c.JSON(http.StatusNotFound, gin.H{"reason": cst.ReasonNotFound})
		return nil, false
	}
	room, err := r.CS.GetRoom(hash)
	if err != nil {
		respStoreErr(c, clog.WithField("roomHash", hash), err)
		return nil, false
	}
	if room.Expired(r.Clk.Now()) {
		c.JSON(http.StatusNotFound, gin.H{"reason": cst.ReasonExpired})
		return nil, false
	}
	return room, true
}

// audit records the claim attempt off the request path; a failing audit store
// never blocks nor fails a read
func (r *reader) audit(c *gin.Context, hash string, at time.Time, oc *md.ClaimOutcome) {
	outcome := "granted"
	if !oc.Granted {
		outcome = oc.Reason
	}
	attempt := &md.ClaimAttempt{
		ShoutHash: hash,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Outcome:   outcome,
		At:        at,
	}
	if kid, err := ksuid.NewRandom(); err == nil {
		attempt.ID = kid.String()
	}
	go func() {
		if err := r.AS.Record(attempt); err != nil {
			logging.WithFuncName().WithError(err).WithField("shoutHash", hash).
				Error("error recording claim attempt")
		}
	}()
}

func (r *reader) inlinePhoto(sh *md.Shout) (string, *se.Err) {
	rc, err := r.FS.Get(sh.StorageKey)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, rerr := io.ReadAll(rc)
	if rerr != nil {
		return "", se.NewServiceFailure("error reading photo payload").WithCause(rerr)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func mediaContentType(typ md.ShoutType) string {
	switch typ {
	case md.TypeAudio:
		return "audio/wav"
	case md.TypeVideo:
		return "video/mp4"
	case md.TypePhoto:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func respStoreErr(c *gin.Context, clog *log.Entry, err *se.Err) {
	if err.Code == se.ErrCodeNotFound {
		c.JSON(http.StatusNotFound, gin.H{"reason": cst.ReasonNotFound})
		return
	}
	clog.Error(err.Trace())
	c.JSON(http.StatusInternalServerError, gin.H{"reason": cst.ReasonError})
}
