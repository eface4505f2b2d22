package middleware

import (
	"net/http"
	"time"

	hr "github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// PanicRecoverer recovers from panic of underlying handlers
func PanicRecoverer() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("panicReason", r).Error("got panic from underlying handler")
				}
			}()
			h(w, r, p)
		}
	}
}

// AccessLogger emits one log line per request with status and latency
func AccessLogger() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			h(sw, r, p)
			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			log.WithFields(log.Fields{
				"method":        r.Method,
				"path":          r.URL.Path,
				"status":        status,
				"latencyMillis": time.Since(start).Milliseconds(),
			}).Info("handled request")
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type Middleware func(hr.Handle) hr.Handle

// Chain composites given handler and middlewares
func Chain(h hr.Handle, ms ...Middleware) hr.Handle {
	for _, m := range ms {
		h = m(h)
	}
	return h
}
