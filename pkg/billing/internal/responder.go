package internal

import (
	"net/http"
	"sync/atomic"
)

// Responder is a write-once http.ResponseWriter. After the first WriteHeader
// (explicit or implied by Write) further header writes are dropped, so
// late error paths cannot answer a request twice.
type Responder struct {
	http.ResponseWriter
	responded atomic.Bool
	status    atomic.Int32
}

// NewResponder wraps w.
func NewResponder(w http.ResponseWriter) *Responder {
	return &Responder{ResponseWriter: w}
}

// WriteHeader forwards only the first call.
func (r *Responder) WriteHeader(code int) {
	if !r.responded.CompareAndSwap(false, true) {
		return
	}
	r.status.Store(int32(code))
	r.ResponseWriter.WriteHeader(code)
}

func (r *Responder) Write(b []byte) (int, error) {
	if r.responded.CompareAndSwap(false, true) {
		r.status.Store(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Respond writes a JSON body if nothing was written yet and reports whether it did.
func (r *Responder) Respond(code int, body interface{}) bool {
	if !r.responded.CompareAndSwap(false, true) {
		return false
	}
	r.status.Store(int32(code))
	_ = WriteJSON(r.ResponseWriter, code, body)
	return true
}

// Done reports whether a response has been started.
func (r *Responder) Done() bool {
	return r.responded.Load()
}

// Status is the status code sent, or 0.
func (r *Responder) Status() int {
	return int(r.status.Load())
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *Responder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
