// Package permission guards access to the local media library.
//
// A Gate asks a Prompter at most once per process. Whatever the answer, it is
// reused for the rest of the process lifetime; concurrent callers that arrive
// while the request is outstanding share its result.
package permission

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/zonemedia/internal/logging"
	"golang.org/x/sync/singleflight"
)

type Status int

const (
	StatusUndetermined Status = iota
	StatusGranted
	StatusDenied
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Prompter is the platform side of the permission flow.
type Prompter interface {
	// Status reports the current grant without prompting.
	Status(ctx context.Context) (Status, error)
	// Request prompts the user once and reports the answer.
	Request(ctx context.Context) (bool, error)
}

// Notifier surfaces a denial to the user.
type Notifier interface {
	NotifyDenied(ctx context.Context)
}

type NotifierFunc func(ctx context.Context)

func (f NotifierFunc) NotifyDenied(ctx context.Context) { f(ctx) }

type Gate struct {
	prompter Prompter
	notifier Notifier
	logger   logging.Logger

	group singleflight.Group

	mu      sync.Mutex
	decided bool
	granted bool
}

func NewGate(prompter Prompter, notifier Notifier, logger logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{prompter: prompter, notifier: notifier, logger: logger.With("component", "permission")}
}

// Ensure reports whether the library may be used. The first call checks the
// status and, if access is not yet granted, issues exactly one request.
// Later calls return the cached decision. It also returns false when ctx
// ends before the decision is made; callers tell the two apart by ctx.Err.
func (g *Gate) Ensure(ctx context.Context) bool {
	if granted, ok := g.cached(); ok {
		return granted
	}

	ch := g.group.DoChan("ensure", func() (any, error) {
		if granted, ok := g.cached(); ok {
			return granted, nil
		}
		granted := g.decide(context.WithoutCancel(ctx))
		g.mu.Lock()
		g.decided, g.granted = true, granted
		g.mu.Unlock()
		return granted, nil
	})

	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

// Reset forgets the cached decision so the next Ensure asks again. Used when
// the user changes the grant outside the application.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decided, g.granted = false, false
}

func (g *Gate) cached() (bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.granted, g.decided
}

func (g *Gate) decide(ctx context.Context) bool {
	status, err := g.prompter.Status(ctx)
	if err != nil {
		g.logger.Warn(ctx, "permission status check failed", "error", err)
	}
	switch status {
	case StatusGranted:
		return true
	case StatusDenied:
		// A denial recorded earlier is not re-prompted.
		g.logger.Info(ctx, "media library access previously denied")
		g.notify(ctx)
		return false
	}

	granted, err := g.prompter.Request(ctx)
	if err != nil {
		g.logger.Error(ctx, "permission request failed", "error", err)
	}
	if !granted {
		g.logger.Info(ctx, "media library access denied")
		g.notify(ctx)
		return false
	}
	g.logger.Info(ctx, "media library access granted")
	return true
}

func (g *Gate) notify(ctx context.Context) {
	if g.notifier != nil {
		g.notifier.NotifyDenied(ctx)
	}
}
