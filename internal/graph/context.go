package graph

import (
	"log"
	"sync"
)

// ContextState is the lifecycle state of the render context.
type ContextState int

const (
	StateSuspended ContextState = iota
	StateRunning
	StateClosed
)

func (s ContextState) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Context is the process-wide render context. It starts suspended and is
// promoted to running lazily by Ensure, mirroring autoplay-style rules where
// audio may only start after an explicit user action. It is torn down exactly
// once by Shutdown; components hold non-owning handles and must treat a
// non-running context as "render silence".
type Context struct {
	mu    sync.Mutex
	state ContextState
}

// NewContext returns a suspended render context.
func NewContext() *Context {
	return &Context{state: StateSuspended}
}

// Ensure promotes a suspended context to running. Idempotent; a closed
// context stays closed.
func (c *Context) Ensure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSuspended {
		c.state = StateRunning
		log.Println("render context running")
	}
}

// Shutdown closes the context. Idempotent.
func (c *Context) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.state = StateClosed
		log.Println("render context closed")
	}
}

// State returns the current lifecycle state.
func (c *Context) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether the context is in the running state.
func (c *Context) Running() bool {
	return c.State() == StateRunning
}
