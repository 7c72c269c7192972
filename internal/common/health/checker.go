package health

import (
	"errors"
	"sync/atomic"
)

type Checker interface {
	Check() error
}

// StartupCompleteChecker fails until MarkComplete is called, so readiness
// probes stay red while services are still being wired up.
type StartupCompleteChecker struct {
	complete atomic.Bool
}

func NewStartupCompleteChecker() *StartupCompleteChecker {
	return &StartupCompleteChecker{}
}

func (c *StartupCompleteChecker) MarkComplete() {
	c.complete.Store(true)
}

func (c *StartupCompleteChecker) Check() error {
	if c.complete.Load() {
		return nil
	}
	return errors.New("startup not yet complete")
}
