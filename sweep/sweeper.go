// Package sweep vends the reclamation pass that deactivates shouts past their
// deadline and disposes of payload bytes left behind by burnt shouts.
package sweep

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bluele/gcache"

	"burnafter.io/shout/common/clock"
	"burnafter.io/shout/common/logging"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
	st "burnafter.io/shout/stores"
)

// Stats summarizes one sweep pass
type Stats struct {
	Deactivated int
	Reclaimed   int
	Errors      int
}

// Sweeper runs the two-phase sweep: first deactivate active shouts whose
// deadline passed, then delete payload bytes of burnt shouts and clear their
// storage pointers. Both phases are idempotent so overlapping or repeated
// sweeps are harmless.
type Sweeper struct {
	SS           st.ShoutStore
	FS           st.FileStore
	Clk          clock.Clock
	MaxLoad      int
	ExecPoolSize int
	// WIPCache keys junk already dispatched to an executor so slow deletions
	// don't get dispatched twice within one process
	WIPCache       gcache.Cache
	WIPEntryExpiry time.Duration
}

// RunOnce performs a single sweep pass and reports what it did
func (s *Sweeper) RunOnce() Stats {
	clog := logging.WithFuncName()
	stats := Stats{}
	n, err := s.SS.MarkExpired(s.Clk.Now(), s.MaxLoad)
	if err != nil {
		clog.WithError(err).Error("error marking expired shouts")
		stats.Errors++
	}
	stats.Deactivated = n
	jks, err := s.Load(s.MaxLoad)
	if err != nil {
		clog.WithError(err).Error("error loading junk shouts")
		stats.Errors++
		return stats
	}
	clog.WithField("count", len(jks)).Debug("junk shouts loaded")
	// dispatch junk to workers in pool for disposal
	quotas := make(chan struct{}, s.ExecPoolSize)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wg.Add(len(jks))
	for _, jk := range jks {
		go func(jk *md.Junk) {
			quotas <- struct{}{}
			defer func() { <-quotas }()
			defer wg.Done()
			err := s.Reclaim(jk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Errors++
				return
			}
			stats.Reclaimed++
		}(jk)
	}
	wg.Wait()
	return stats
}

// Load loads up to max junk shouts for reclamation, skipping ones already
// dispatched within this process. It loads all junk shouts available when
// max == 0.
func (s *Sweeper) Load(max int) ([]*md.Junk, *se.Err) {
	clog := logging.WithFuncName()
	jks, err := s.SS.Junk(max)
	if err != nil {
		clog.WithError(err).Error("error loading junk shouts from ShoutStore")
		return nil, err
	}
	// query local cache to filter out shouts whose reclamation is already WIP
	newJks := []*md.Junk{}
	for _, jk := range jks {
		if _, err := s.WIPCache.Get(jk.ShoutHash); err != nil {
			if err == gcache.KeyNotFoundError {
				newJks = append(newJks, jk)
			} else {
				msg := "error getting shout hash from local cache"
				clog.WithError(err).Error(msg)
				return nil, se.NewServiceFailure(msg).WithCause(err)
			}
		}
	}
	// key these shouts in WIP cache in best-effort manner - a hash which we
	// failed to cache just gets picked up again by the next sweep
	for _, jk := range newJks {
		if err := s.WIPCache.SetWithExpire(jk.ShoutHash, struct{}{}, s.WIPEntryExpiry); err != nil {
			clog.WithError(err).Errorf("error keying shout hash %s in local cache", jk.ShoutHash)
		}
	}
	return newJks, nil
}

// Reclaim deletes the junk shout's payload bytes and then clears its storage
// pointer. The pointer is cleared only after the bytes are confirmed gone, so
// a failure at either step leaves the junk visible for the next sweep.
func (s *Sweeper) Reclaim(jk *md.Junk) *se.Err {
	clog := logging.WithFuncName().WithField("shoutHash", jk.ShoutHash)
	if jk.StorageKey == "" {
		// nothing in file storage; just retire the bookkeeping entry
		if err := s.SS.ClearStorageKey(jk.ShoutHash); err != nil {
			clog.WithError(err).Error("error retiring junk entry without payload")
			s.WIPCache.Remove(jk.ShoutHash)
			return err
		}
		s.WIPCache.Remove(jk.ShoutHash)
		return nil
	}
	if err := s.FS.Delete(jk.StorageKey); err != nil {
		clog.WithError(err).WithField("storageKey", jk.StorageKey).
			Error("error deleting shout payload with FileStore")
		// drop the WIP entry so the next sweep retries right away
		s.WIPCache.Remove(jk.ShoutHash)
		return err
	}
	if err := s.SS.ClearStorageKey(jk.ShoutHash); err != nil {
		clog.WithError(err).Error("error clearing shout storage pointer")
		s.WIPCache.Remove(jk.ShoutHash)
		return err
	}
	s.WIPCache.Remove(jk.ShoutHash)
	clog.Debug("successfully reclaimed junk shout")
	return nil
}

// Run sweeps at the given frequency until the process receives SIGTERM
func (s *Sweeper) Run(freq time.Duration) *se.Err {
	clog := logging.WithFuncName()
	if freq <= 0 {
		return se.NewBadInput("got non-positive sweep frequency")
	}
	loadTkr := time.NewTicker(freq)
	defer loadTkr.Stop()
	// ensure the worker can be responsive to system signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
LoopRun:
	for {
		select {
		case <-loadTkr.C:
			stats := s.RunOnce()
			clog.WithFields(map[string]interface{}{
				"deactivated": stats.Deactivated,
				"reclaimed":   stats.Reclaimed,
				"errors":      stats.Errors,
			}).Info("sweep pass done")
		case <-sigChan:
			clog.Info("got termination signal from kernel. Stopping")
			break LoopRun
		}
	}
	return nil
}
