// Package guard serialises concurrent match runs for the same target.
//
// The engine itself accepts duplicate decision records when two runs for
// one target overlap. A guard other than None turns the second run into an
// ErrRunInProgress failure instead.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrRunInProgress is returned by Acquire when another run holds the target.
var ErrRunInProgress = errors.New("match run already in progress")

// Release gives up a held guard. It is safe to call more than once.
type Release func()

// RunGuard grants exclusive access to a (tenant, target) pair for the
// duration of one match run.
type RunGuard interface {
	Acquire(ctx context.Context, tenantID, targetID string) (Release, error)
}

// Kind names a guard implementation in configuration.
type Kind string

const (
	KindNone   Kind = "none"
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// ParseKind parses a configured guard kind. An empty string means none.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindNone:
		return KindNone, nil
	case KindMemory, KindRedis:
		return k, nil
	default:
		return "", errors.New("unknown run guard: " + s)
	}
}

// Key builds the lock key for a target. The tenant is length-prefixed so
// IDs containing the separator cannot collide across tenants.
func Key(tenantID, targetID string) string {
	return fmt.Sprintf("%d:%s/%s", len(tenantID), tenantID, targetID)
}

// None never blocks.
type None struct{}

func (None) Acquire(context.Context, string, string) (Release, error) {
	return func() {}, nil
}

// Memory is a per-process try-lock keyed by target.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an in-process guard.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) Acquire(ctx context.Context, tenantID, targetID string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := Key(tenantID, targetID)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.held[key]; busy {
		return nil, ErrRunInProgress
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}
