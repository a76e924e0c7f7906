package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrent = 3

// Limiter caps how many provider calls are in flight at once. Waiters are admitted in
// the order they arrived. It does not limit request rate.
type Limiter struct {
	sem  *semaphore.Weighted
	size int64
}

func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
		size: int64(maxConcurrent),
	}
}

// Do runs fn while holding a slot. It returns ctx.Err() if the context ends while waiting.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire llm slot: %w", err)
	}
	defer l.sem.Release(1)
	return fn(ctx)
}

func (l *Limiter) Size() int {
	return int(l.size)
}

type limitedClient struct {
	Client
	limiter *Limiter
}

// Limit routes every Chat call of c through l.
func Limit(c Client, l *Limiter) Client {
	return &limitedClient{Client: c, limiter: l}
}

func (c *limitedClient) Chat(ctx context.Context, req Request, result any) (*Response, error) {
	var resp *Response
	err := c.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.Client.Chat(ctx, req, result)
		return err
	})
	return resp, err
}

type limitedEmbedder struct {
	Embedder
	limiter *Limiter
}

// LimitEmbedder routes every Embed call of e through l.
func LimitEmbedder(e Embedder, l *Limiter) Embedder {
	return &limitedEmbedder{Embedder: e, limiter: l}
}

func (e *limitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.Embedder.Embed(ctx, text)
		return err
	})
	return out, err
}
