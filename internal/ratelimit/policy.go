// Package ratelimit implements the fixed-window rate governor.
package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Class groups routes that share one counting policy.
type Class string

// Route classes.
const (
	ClassRead      Class = "read"
	ClassWrite     Class = "write"
	ClassLogin     Class = "login"
	ClassSensitive Class = "sensitive"
)

// ErrUnknownClass is returned when no policy is configured for a class.
var ErrUnknownClass = errors.New("ratelimit: unknown route class")

// Policy allows Limit requests per Window. Windows are aligned to multiples of Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Validate checks that the policy can admit at least one request.
func (p Policy) Validate() error {
	if p.Limit < 1 {
		return fmt.Errorf("ratelimit: limit must be positive, got %d", p.Limit)
	}
	if p.Window < time.Second {
		return fmt.Errorf("ratelimit: window must be at least 1s, got %s", p.Window)
	}
	return nil
}

// bounds returns the start and end of the window containing now.
func (p Policy) bounds(now time.Time) (time.Time, time.Time) {
	start := now.Truncate(p.Window)
	return start, start.Add(p.Window)
}

// Policies maps each route class to its policy.
type Policies map[Class]Policy

// DefaultPolicies returns the production limits.
func DefaultPolicies() Policies {
	return Policies{
		ClassRead:      {Limit: 120, Window: time.Minute},
		ClassWrite:     {Limit: 20, Window: time.Minute},
		ClassLogin:     {Limit: 10, Window: time.Minute},
		ClassSensitive: {Limit: 3, Window: time.Hour},
	}
}

// Validate checks every configured policy.
func (p Policies) Validate() error {
	if len(p) == 0 {
		return errors.New("ratelimit: no policies configured")
	}
	for class, policy := range p {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%s: %w", class, err)
		}
	}
	return nil
}

// Classes lists the configured classes in name order.
func (p Policies) Classes() []Class {
	classes := make([]Class, 0, len(p))
	for class := range p {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// Key identifies one counter: a route class and a caller.
type Key struct {
	Class    Class
	Identity string
}

// SubjectKey counts requests of an authenticated subject.
func SubjectKey(class Class, subject string) Key {
	return Key{Class: class, Identity: "sub:" + subject}
}

// AddressKey counts requests of an anonymous source address.
func AddressKey(class Class, addr string) Key {
	return Key{Class: class, Identity: "ip:" + addr}
}

func (k Key) String() string {
	return string(k.Class) + ":" + k.Identity
}
