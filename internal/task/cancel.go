package task

import "sync"

// CancelToken is owned by one run and polled at stage boundaries.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

func (c *CancelToken) Cancel() {
	c.once.Do(func() { close(c.done) })
}

func (c *CancelToken) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *CancelToken) Done() <-chan struct{} {
	return c.done
}

// Check returns ErrCancelled once Cancel has been called.
func (c *CancelToken) Check() error {
	if c.Cancelled() {
		return ErrCancelled
	}
	return nil
}
