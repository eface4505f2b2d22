// Package main implements the shout writer, the service component handling all
// write traffic: posting shouts, opening chat rooms and posting room messages.
package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bluele/gcache"
	hr "github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"burnafter.io/shout/common/clock"
	"burnafter.io/shout/common/logging"
	mw "burnafter.io/shout/common/middleware"
	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	st "burnafter.io/shout/stores"
	"burnafter.io/shout/sweep"
)

// writer handles write traffic of shout application. Multiple writers form the
// service component to handle the application's write operations
type writer struct {
	R   *hr.Router
	SS  st.ShoutStore
	CS  st.ChatStore
	FS  st.FileStore
	Clk clock.Clock
	// Sweeper backs the admin cleanup endpoint, which triggers a sweep pass on
	// demand instead of waiting for the worker's next tick
	Sweeper *sweep.Sweeper
}

func (wrt *writer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wrt.R.ServeHTTP(w, r)
}

func serve() error {
	s, err := setup()
	if err != nil {
		return err
	}
	log.WithField("addr", s.Addr).Info("shout writer is starting up")
	return s.ListenAndServe()
}

func setup() (*http.Server, error) {
	viper.AutomaticEnv()
	logging.SetupLog("shout-writer")
	ss, err := st.NewShoutStore()
	if err != nil {
		return nil, err
	}
	cs, err := st.NewChatStore()
	if err != nil {
		return nil, err
	}
	fs, err := st.NewFileStore()
	if err != nil {
		return nil, err
	}
	wrt := &writer{
		SS:  ss,
		CS:  cs,
		FS:  fs,
		Clk: clock.RealClock{},
		Sweeper: &sweep.Sweeper{
			SS:             ss,
			FS:             fs,
			Clk:            clock.RealClock{},
			MaxLoad:        sweepMaxLoad(),
			ExecPoolSize:   sweepExecPoolSize(),
			WIPCache:       gcache.New(sweepLocalCacheSize()).LRU().Build(),
			WIPEntryExpiry: sweepWIPEntryExpiry(),
		},
	}
	wrt.SetupRoutes()
	return &http.Server{
		Addr:           viper.GetString(cst.EnvWriterServerAddr),
		Handler:        wrt,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 10,
	}, nil
}

func (wrt *writer) SetupRoutes() {
	r := hr.New()
	ms := []mw.Middleware{mw.AccessLogger(), mw.PanicRecoverer()}
	r.POST("/api/shouts", mw.Chain(wrt.HandleTaskCreateShout(), ms...))
	r.POST("/api/chat", mw.Chain(wrt.HandleTaskCreateChatRoom(), ms...))
	r.POST("/api/chat/:chathash/message", mw.Chain(wrt.HandleTaskPostChatMessage(), ms...))
	r.POST("/api/admin/cleanup", mw.Chain(wrt.HandleAdminCleanup(), ms...))
	wrt.R = r
}

func sweepMaxLoad() int {
	if v := viper.GetInt(cst.EnvSweeperMaxSweepLoad); v > 0 {
		return v
	}
	return 100
}

func sweepExecPoolSize() int {
	if v := viper.GetInt(cst.EnvSweeperExecutorPoolSize); v > 0 {
		return v
	}
	return 4
}

func sweepLocalCacheSize() int {
	if v := viper.GetInt(cst.EnvSweeperLocalCacheSize); v > 0 {
		return v
	}
	return 1024
}

func sweepWIPEntryExpiry() time.Duration {
	if v := viper.GetDuration(cst.EnvSweeperWIPCacheEntryExpiry); v > 0 {
		return v
	}
	return time.Minute
}

// -------------- response utils --------------

func respJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("error encoding response body")
	}
}

func respErr(w http.ResponseWriter, err *se.Err) {
	respJSON(w, err.StatusCode(), map[string]string{"error": err.Error()})
}
