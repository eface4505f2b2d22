// Package main vends a long-running worker that sweeps expired shouts and
// reclaims payload bytes left behind by burnt ones.
package main

import (
	"time"

	"github.com/bluele/gcache"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"burnafter.io/shout/common/clock"
	"burnafter.io/shout/common/logging"
	cst "burnafter.io/shout/constants"
	st "burnafter.io/shout/stores"
	"burnafter.io/shout/sweep"
)

func main() {
	if err := runSweeper(); err != nil {
		log.WithError(err).Fatal("error running sweeper")
	}
}

func runSweeper() error {
	viper.AutomaticEnv()
	logging.SetupLog("shout-sweeper")
	clog := logging.WithFuncName()
	ss, err := st.NewShoutStore()
	if err != nil {
		clog.WithError(err).Error("error setting up ShoutStore")
		return err
	}
	defer ss.Close()
	fs, err := st.NewFileStore()
	if err != nil {
		clog.WithError(err).Error("error setting up FileStore")
		return err
	}
	defer fs.Close()
	s := &sweep.Sweeper{
		SS:             ss,
		FS:             fs,
		Clk:            clock.RealClock{},
		MaxLoad:        intSetting(cst.EnvSweeperMaxSweepLoad, 100),
		ExecPoolSize:   intSetting(cst.EnvSweeperExecutorPoolSize, 4),
		WIPCache:       gcache.New(intSetting(cst.EnvSweeperLocalCacheSize, 1024)).LRU().Build(),
		WIPEntryExpiry: durSetting(cst.EnvSweeperWIPCacheEntryExpiry, time.Minute),
	}
	if err := s.Run(durSetting(cst.EnvSweeperSweepFreq, time.Minute)); err != nil {
		return err
	}
	return nil
}

func intSetting(key string, fallback int) int {
	if v := viper.GetInt(key); v > 0 {
		return v
	}
	return fallback
}

func durSetting(key string, fallback time.Duration) time.Duration {
	if v := viper.GetDuration(key); v > 0 {
		return v
	}
	return fallback
}
