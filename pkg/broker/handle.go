package broker

import "sync"

// handle is a one-shot suspension barrier. The producer writes the result
// and then closes done; the channel close gives the consumer a
// happens-before edge, so reading the fields after <-done is race-free.
type handle struct {
	once    sync.Once
	done    chan struct{}
	answers map[string]string
	err     error
}

func newHandle() *handle {
	return &handle{done: make(chan struct{})}
}

// resolve delivers the answers. Only the first of resolve/reject wins.
func (h *handle) resolve(answers map[string]string) {
	h.once.Do(func() {
		h.answers = answers
		close(h.done)
	})
}

// reject delivers a failure reason. Only the first of resolve/reject wins.
func (h *handle) reject(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// result must only be called after done is closed.
func (h *handle) result() (map[string]string, error) {
	return h.answers, h.err
}
