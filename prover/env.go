package prover

import (
	"bytes"
	"errors"
	"sync"
)

var (
	// ErrEnvConsumed is returned when the input of an Env is read twice.
	ErrEnvConsumed = errors.New("execution env already consumed")
	// ErrEnvBuilt is returned when a builder is used after Build.
	ErrEnvBuilt = errors.New("execution env already built")
)

// EnvBuilder accumulates the input of an execution environment.
type EnvBuilder struct {
	buf   bytes.Buffer
	built bool
}

// NewEnvBuilder returns an empty builder.
func NewEnvBuilder() *EnvBuilder {
	return &EnvBuilder{}
}

// WriteSlice appends p to the environment input.
func (b *EnvBuilder) WriteSlice(p []byte) *EnvBuilder {
	if !b.built {
		b.buf.Write(p)
	}
	return b
}

// Build freezes the input into an Env. A builder builds a single Env.
func (b *EnvBuilder) Build() (*Env, error) {
	if b.built {
		return nil, ErrEnvBuilt
	}
	b.built = true
	return &Env{input: bytes.Clone(b.buf.Bytes())}, nil
}

// Env is the write-once input channel a prover reads. Its input can be taken
// exactly once.
type Env struct {
	mu       sync.Mutex
	input    []byte
	consumed bool
}

// Take returns the input and marks the environment as consumed.
func (e *Env) Take() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumed {
		return nil, ErrEnvConsumed
	}
	e.consumed = true
	in := e.input
	e.input = nil
	return in, nil
}
