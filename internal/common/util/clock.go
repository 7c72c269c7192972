package util

import "time"

// Clock abstracts time.Now so lifecycle timestamps can be controlled in
// tests.
type Clock interface {
	Now() time.Time
}

type DefaultClock struct{}

func (c *DefaultClock) Now() time.Time { return time.Now() }

// DummyClock always returns T; advance it by assigning a new value.
type DummyClock struct {
	T time.Time
}

func (c *DummyClock) Now() time.Time { return c.T }
