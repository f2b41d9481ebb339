package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Sequence names an identifier series and its prefix.
type Sequence struct {
	Name   string
	Prefix string
}

var (
	PatientSeq = Sequence{Name: "patient", Prefix: "P"}
	PaymentSeq = Sequence{Name: "payment", Prefix: "R"}
)

// Format renders n as the prefix followed by at least three digits.
func (s Sequence) Format(n int64) string {
	return fmt.Sprintf("%s%03d", s.Prefix, n)
}

// Parse returns the numeric part of id.
func (s Sequence) Parse(id string) (int64, error) {
	digits, ok := strings.CutPrefix(strings.TrimSpace(id), s.Prefix)
	if !ok || digits == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedIdentifier, id)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedIdentifier, id)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedIdentifier, id)
	}
	return n, nil
}

// Last returns the numeric part of the last non-blank identifier, or zero
// when there is none.
func (s Sequence) Last(existing []string) (int64, error) {
	for i := len(existing) - 1; i >= 0; i-- {
		if strings.TrimSpace(existing[i]) == "" {
			continue
		}
		return s.Parse(existing[i])
	}
	return 0, nil
}

// Allocate derives the next identifier from the last one in existing. It is
// only safe while a single writer holds the table.
func Allocate(seq Sequence, existing []string) (string, error) {
	last, err := seq.Last(existing)
	if err != nil {
		return "", err
	}
	return seq.Format(last + 1), nil
}

// IDSource hands out the next identifier of a sequence. existing is the
// sequence's identifiers in table order.
type IDSource interface {
	Next(ctx context.Context, seq Sequence, existing []string) (string, error)
}

// LogIDSource derives identifiers from the table contents alone.
type LogIDSource struct{}

func (LogIDSource) Next(_ context.Context, seq Sequence, existing []string) (string, error) {
	return Allocate(seq, existing)
}

// Counter is an atomic per-key counter that never returns a value at or
// below floor.
type Counter interface {
	Next(ctx context.Context, key string, floor int64) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// CounterIDSource allocates from an external atomic counter, seeded with the
// table's last identifier so a fresh counter never reissues one.
type CounterIDSource struct {
	counter Counter
}

func NewCounterIDSource(c Counter) *CounterIDSource {
	return &CounterIDSource{counter: c}
}

func (s *CounterIDSource) Next(ctx context.Context, seq Sequence, existing []string) (string, error) {
	floor, err := seq.Last(existing)
	if err != nil {
		return "", err
	}
	n, err := s.counter.Next(ctx, seq.Name, floor)
	if err != nil {
		return "", fmt.Errorf("allocate %s id: %w", seq.Name, err)
	}
	return seq.Format(n), nil
}

// Ping checks the counter's backend when it can report its health.
func (s *CounterIDSource) Ping(ctx context.Context) error {
	if p, ok := s.counter.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("id counter: %w", err)
		}
	}
	return nil
}
