// Package middleware implements the gateway's composable middleware
// chain: an ordered, fixed-at-startup list of named stages, each of the
// shape (ctx, next) -> (), generalized from the teacher's
// func(http.Handler) http.Handler composition in common.go and
// circuit_breaker.go/ratelimit.go so that stages can be named,
// introspected for the /gateway/health snapshot, and tested in
// isolation.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/mir00r/gateway/internal/breaker"
	"github.com/mir00r/gateway/internal/domain"
	"github.com/mir00r/gateway/internal/loadbalancer"
)

// Context is the per-request record threaded down the chain. One is
// created per inbound request and discarded at the end of the pipeline
// run; it is never shared across requests.
type Context struct {
	Request  *http.Request
	Writer   http.ResponseWriter
	ClientKey string
	Start    time.Time

	// Filled in by the select stage.
	Backend  *domain.Backend
	Breaker  *breaker.Breaker
	Balancer loadbalancer.Balancer

	mu       sync.Mutex
	metadata map[string]interface{}

	// responded is set once a stage has written a terminal response, so
	// the pipeline driver's panic fallback knows not to write another one.
	responded bool
}

// NewContext creates a fresh per-request Context.
func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{
		Request:  r,
		Writer:   w,
		Start:    time.Now(),
		metadata: make(map[string]interface{}),
	}
}

// Set stores a fact in the metadata bag for the logger stage to report.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Get reads a fact from the metadata bag.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// MarkResponded records that a terminal HTTP response has been written,
// so later stages and the pipeline driver's error fallback do not double
// write.
func (c *Context) MarkResponded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responded = true
}

// Responded reports whether a terminal response has already been written.
func (c *Context) Responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

// Snapshot copies the metadata bag, for logging.
func (c *Context) Snapshot() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// Next is the continuation a Stage calls to delegate to the remainder of
// the chain. Not calling it short-circuits the pipeline.
type Next func()

// Stage is one named step in the pipeline.
type Stage interface {
	Name() string
	Handle(ctx *Context, next Next)
}

// Chain is an ordered, fixed list of stages, constructed once at startup.
type Chain struct {
	stages []Stage
}

// NewChain builds a Chain from stages in the given order. Construction is
// order-sensitive: the canonical order is
// logger -> cors -> rate-limit -> select -> proxy, per spec.md §4.4.
func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// StageNames returns the configured stage names in order, for the
// /gateway/health snapshot.
func (c *Chain) StageNames() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// ServeHTTP drives one request through every stage in order. If a stage
// panics and no response was written yet, a 500 naming the offending
// stage is emitted. Each stage's panic is recovered in that stage's own
// run frame, so the next() call of earlier stages returns normally and
// the logger stage's code after next() still runs. A stage that returns
// without writing a response and without calling next is not detected.
func (c *Chain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := NewContext(w, r)
	c.run(ctx, 0)
}

func (c *Chain) run(ctx *Context, index int) {
	if index >= len(c.stages) {
		return
	}
	stage := c.stages[index]

	defer func() {
		if rec := recover(); rec != nil {
			if !ctx.Responded() {
				writeStageError(ctx, stage.Name())
			}
		}
	}()

	stage.Handle(ctx, func() {
		c.run(ctx, index+1)
	})
}

func writeStageError(ctx *Context, stage string) {
	ctx.MarkResponded()
	ctx.Writer.Header().Set("Content-Type", "application/json")
	ctx.Writer.WriteHeader(http.StatusInternalServerError)
	_, _ = ctx.Writer.Write([]byte(`{"error":"internal pipeline error","stage":"` + stage + `"}`))
}
