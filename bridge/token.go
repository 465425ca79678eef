package bridge

import (
	"context"
	"sync"
)

// Token represents an asynchronous publish/subscribe/unsubscribe operation
// against the upstream connection. Mirrors the teacher's own Token
// (token.go) exactly — the bridge's upstream pump is a client of the
// upstream broker in the same sense the teacher's Client is, so the same
// completion pattern applies unchanged.
type Token interface {
	Wait(ctx context.Context) error
	Done() <-chan struct{}
	Error() error
}

type token struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newToken() *token {
	return &token{done: make(chan struct{})}
}

func (t *token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *token) Done() <-chan struct{} { return t.done }

func (t *token) Error() error { return t.err }

func (t *token) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}
