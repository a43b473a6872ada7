// Package idempotency makes task-creating POSTs safe to retry. A client
// that sets an Idempotency-Key header gets the recorded response replayed
// for one hour instead of a duplicate task.
package idempotency

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

const keyTTL = time.Hour

type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

type Store struct {
	cache sync.Map
}

type entry struct {
	resp      Response
	timestamp time.Time
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Get(key string) (Response, bool) {
	val, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if time.Since(e.timestamp) > keyTTL {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.resp, true
}

func (s *Store) Set(key string, resp Response) {
	s.cache.Store(key, entry{
		resp:      resp,
		timestamp: time.Now(),
	})
}

// Middleware records the response per Idempotency-Key and replays it on
// repeats. Requests without the header pass straight through.
func Middleware(store *Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if resp, ok := store.Get(key); ok {
			for name, values := range resp.Headers {
				for _, v := range values {
					w.Header().Add(name, v)
				}
			}
			w.Header().Set("X-Idempotent-Replay", "true")
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Only successful creations are worth replaying; errors should
		// be retried for real.
		if rec.status < 500 {
			store.Set(key, Response{
				StatusCode: rec.status,
				Body:       rec.body.Bytes(),
				Headers:    w.Header().Clone(),
			})
		}
	})
}

// recorder captures the status and body while writing through.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
