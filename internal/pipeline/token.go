package pipeline

import "sync/atomic"

// Token carries the cooperative pause and cancel flags for one running job.
// The scheduler sets flags; the pipeline polls them between segments, never
// inside an in-flight inference call.
type Token struct {
	paused   atomic.Bool
	canceled atomic.Bool
}

// NewToken returns a fresh token with no flags set.
func NewToken() *Token {
	return &Token{}
}

// RequestPause asks the running pipeline to suspend at the next segment
// boundary with its checkpoint intact.
func (t *Token) RequestPause() {
	t.paused.Store(true)
}

// RequestCancel asks the running pipeline to stop at the next segment
// boundary. Cancel wins over pause.
func (t *Token) RequestCancel() {
	t.canceled.Store(true)
}

// Paused reports whether a pause was requested.
func (t *Token) Paused() bool {
	return t.paused.Load()
}

// Canceled reports whether a cancel was requested.
func (t *Token) Canceled() bool {
	return t.canceled.Load()
}
