// Package main implements the shout reader, the service component handling all
// read traffic. Reading a shout is the only operation that consumes a view, so
// the reader is where claims happen.
package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"burnafter.io/shout/common/clock"
	"burnafter.io/shout/common/logging"
	cst "burnafter.io/shout/constants"
	st "burnafter.io/shout/stores"
)

// reader handles read traffic of shout application. Multiple readers form the
// service component to handle the application's read operations
type reader struct {
	Router *gin.Engine
	SS     st.ShoutStore
	CS     st.ChatStore
	FS     st.FileStore
	AS     st.AuditStore
	Clk    clock.Clock
}

func serve() error {
	r, err := setup()
	if err != nil {
		return err
	}
	return r.Router.Run(viper.GetString(cst.EnvReaderServerAddr))
}

func setup() (*reader, error) {
	viper.AutomaticEnv()
	logging.SetupLog("shout-reader")
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
	as, err := st.NewAuditStore()
	if err != nil {
		return nil, err
	}
	r := &reader{SS: ss, CS: cs, FS: fs, AS: as, Clk: clock.RealClock{}}
	r.SetupRoutes()
	return r, nil
}

func (r *reader) SetupRoutes() {
	rt := gin.Default()

	rt.GET("/api/shouts/:hash", r.HandleTaskGetShout)
	rt.GET("/api/shouts/:hash/check", r.HandleTaskCheckShout)
	rt.GET("/api/shouts/:hash/stream", r.HandleTaskStreamShout)
	rt.GET("/api/chat/:chathash", r.HandleTaskGetChatRoom)
	rt.GET("/api/chat/:chathash/messages", r.HandleTaskListChatMessages)
	rt.GET("/api/utils/qr", r.HandleUtilQRCode)
	rt.GET("/api/utils/health", r.HandleUtilHealth)
	r.Router = rt
}
