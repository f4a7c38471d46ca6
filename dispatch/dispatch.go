// Package dispatch delivers one-time codes to users over registered
// channels (email, SMS). The engine decides who gets what; this package
// only moves messages and reports failures.
package dispatch

import (
	"context"
	"errors"
	"time"
)

// Kind names a delivery channel. It is also the tag appended to challenge
// purposes, so a code sent over one channel never verifies against another.
type Kind string

const (
	KindEmail Kind = "email"
	KindSMS   Kind = "sms"
)

// ErrNoChannel is returned when a send cannot happen: no channel is
// registered for the requested kind, or every eligible channel failed.
var ErrNoChannel = errors.New("dispatch: no channel delivered")

// Recipient is the addressing slice of a user.
type Recipient struct {
	UserID      string
	Email       string
	PhoneNumber string
}

// Message is one code delivery.
type Message struct {
	Purpose  string
	Code     string
	Lifetime time.Duration
}

// Channel sends messages over one transport. Implementations are supplied by
// the host application.
type Channel interface {
	Kind() Kind
	Send(ctx context.Context, to Recipient, msg Message) error
}

// Set holds the registered channels, at most one per kind.
type Set struct {
	channels map[Kind]Channel
}

func NewSet(channels ...Channel) *Set {
	s := &Set{channels: make(map[Kind]Channel, len(channels))}
	for _, ch := range channels {
		if ch != nil {
			s.channels[ch.Kind()] = ch
		}
	}
	return s
}

func (s *Set) Get(kind Kind) (Channel, bool) {
	if s == nil {
		return nil, false
	}
	ch, ok := s.channels[kind]
	return ch, ok
}

// Kinds returns the registered kinds in no particular order.
func (s *Set) Kinds() []Kind {
	if s == nil {
		return nil
	}
	out := make([]Kind, 0, len(s.channels))
	for k := range s.channels {
		out = append(out, k)
	}
	return out
}

// Send delivers over a single kind.
func (s *Set) Send(ctx context.Context, kind Kind, to Recipient, msg Message) error {
	ch, ok := s.Get(kind)
	if !ok {
		return ErrNoChannel
	}
	return ch.Send(ctx, to, msg)
}

// Broadcast sends over every kind in kinds, best-effort. It succeeds when at
// least one channel delivered; if none did, the joined failures come back
// wrapped in ErrNoChannel.
func (s *Set) Broadcast(ctx context.Context, kinds []Kind, to Recipient, build func(Kind) Message) error {
	var (
		delivered bool
		failures  []error
	)
	for _, kind := range kinds {
		ch, ok := s.Get(kind)
		if !ok {
			continue
		}
		if err := ch.Send(ctx, to, build(kind)); err != nil {
			failures = append(failures, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	failures = append([]error{ErrNoChannel}, failures...)
	return errors.Join(failures...)
}
