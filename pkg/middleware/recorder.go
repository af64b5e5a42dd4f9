package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/budapestdude/stats-sub007/pkg/cache"
)

// recorder captures the downstream handler's response so it can be stored
// and replayed to every single-flight waiter.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newRecorder() *recorder {
	return &recorder{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
}

func (r *recorder) Write(p []byte) (int, error) {
	return r.body.Write(p)
}

func (r *recorder) entry(ttl time.Duration) *cache.Entry {
	return cache.NewEntry(
		bytes.Clone(r.body.Bytes()),
		r.status,
		r.header.Get("Content-Type"),
		ttl,
	)
}
