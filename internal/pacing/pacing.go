// Package pacing slows interactions down so that they resemble a human
// operator: randomized pauses between actions and per character typing.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/mpreach/mpreach/internal/config"
)

// Pacer pauses between two consecutive actions.
type Pacer interface {
	Pause(ctx context.Context) error
}

// Random pauses for a duration drawn uniformly from [Min, Max].
type Random struct {
	Min time.Duration
	Max time.Duration
}

// Next returns the duration of the next pause.
func (r *Random) Next() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

func (r *Random) Pause(ctx context.Context) error {
	return Sleep(ctx, r.Next())
}

// None never pauses.
type None struct{}

func (None) Pause(ctx context.Context) error {
	return ctx.Err()
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Keyboard sends text to the focused element.
type Keyboard interface {
	Type(ctx context.Context, text string) error
}

// Typist decides how text is entered through a Keyboard.
type Typist interface {
	Type(ctx context.Context, kb Keyboard, text string) error
}

// Instant enters the whole text at once.
type Instant struct{}

func (Instant) Type(ctx context.Context, kb Keyboard, text string) error {
	return kb.Type(ctx, text)
}

// Paced enters the text one character at a time with a random delay after
// each key.
type Paced struct {
	KeyDelay Random
}

func (p *Paced) Type(ctx context.Context, kb Keyboard, text string) error {
	for _, r := range text {
		if err := kb.Type(ctx, string(r)); err != nil {
			return err
		}
		if err := p.KeyDelay.Pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// New returns the pacer and typist described by pc. If pacing is disabled
// nothing waits and text is typed instantly.
func New(pc *config.PacingConfig) (Pacer, Typist) {
	if pc.Disabled {
		return None{}, Instant{}
	}
	pacer := &Random{
		Min: time.Duration(pc.MinDelayMS) * time.Millisecond,
		Max: time.Duration(pc.MaxDelayMS) * time.Millisecond,
	}
	if pc.Typing == "instant" {
		return pacer, Instant{}
	}
	return pacer, &Paced{KeyDelay: Random{
		Min: time.Duration(pc.MinKeyDelayMS) * time.Millisecond,
		Max: time.Duration(pc.MaxKeyDelayMS) * time.Millisecond,
	}}
}
