package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// ==========================
// Per-client upload queueing
// ==========================

// RequestKind tells the limiter how much a request costs.
type RequestKind int

const (
	// RequestGeneral requests are serialised per client.
	RequestGeneral RequestKind = iota
	// RequestHeavy requests are serialised and spaced by the cooldown.
	RequestHeavy
)

// RateLimiter runs one goroutine per client address. Requests of a client
// are handed out one at a time; heavy ones also wait until the cooldown
// since the previous heavy request from that client has passed.
type RateLimiter struct {
	cooldown time.Duration
	requests chan clientRequest
	now      func() time.Time
}

type clientRequest struct {
	client string
	ctx    context.Context
	kind   RequestKind
	grant  chan grant
}

type grant struct {
	done chan struct{}
	err  error
}

// Permit is held while a request runs.
type Permit struct {
	done chan struct{}
}

// Release hands the client's slot to its next request. Safe on nil and
// safe to call twice.
func (p *Permit) Release() {
	if p == nil || p.done == nil {
		return
	}
	close(p.done)
	p.done = nil
}

// NewRateLimiter returns nil when cooldown is negative; a nil limiter
// admits everything.
func NewRateLimiter(cooldown time.Duration) *RateLimiter {
	if cooldown < 0 {
		return nil
	}
	l := &RateLimiter{
		cooldown: cooldown,
		requests: make(chan clientRequest),
		now:      time.Now,
	}
	go l.dispatch()
	return l
}

// Acquire blocks until client may run a request of kind.
func (l *RateLimiter) Acquire(ctx context.Context, client string, kind RequestKind) (*Permit, error) {
	if l == nil {
		return nil, nil
	}
	req := clientRequest{client: client, ctx: ctx, kind: kind, grant: make(chan grant, 1)}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case l.requests <- req:
	}
	select {
	case <-ctx.Done():
		// The worker may still grant; release so the queue moves on.
		go func() {
			if g := <-req.grant; g.done != nil {
				close(g.done)
			}
		}()
		return nil, ctx.Err()
	case g := <-req.grant:
		if g.err != nil {
			return nil, g.err
		}
		return &Permit{done: g.done}, nil
	}
}

// TODO: retire per-client workers after a period without requests.
func (l *RateLimiter) dispatch() {
	workers := make(map[string]chan clientRequest)
	for req := range l.requests {
		ch, ok := workers[req.client]
		if !ok {
			ch = make(chan clientRequest, 16)
			workers[req.client] = ch
			go l.serve(ch)
		}
		select {
		case ch <- req:
		case <-req.ctx.Done():
			req.grant <- grant{err: req.ctx.Err()}
		}
	}
}

func (l *RateLimiter) serve(queue <-chan clientRequest) {
	var lastHeavy time.Time
	for req := range queue {
		if req.ctx.Err() != nil {
			req.grant <- grant{err: req.ctx.Err()}
			continue
		}
		if req.kind == RequestHeavy && !lastHeavy.IsZero() {
			if wait := lastHeavy.Add(l.cooldown).Sub(l.now()); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-req.ctx.Done():
					timer.Stop()
					req.grant <- grant{err: req.ctx.Err()}
					continue
				case <-timer.C:
				}
			}
		}

		done := make(chan struct{})
		req.grant <- grant{done: done}
		<-done
		if req.kind == RequestHeavy {
			lastHeavy = l.now()
		}
	}
}

// Limit wraps next so each call holds a permit of kind for the client.
func (l *RateLimiter) Limit(kind RequestKind, next http.HandlerFunc) http.HandlerFunc {
	if l == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		permit, err := l.Acquire(r.Context(), clientIP(r), kind)
		if err != nil {
			return
		}
		defer permit.Release()
		next(w, r)
	}
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
