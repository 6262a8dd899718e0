// Package random provides the random sources used for mock data, so tests can substitute
// fixed sequences.
package random

import (
	"math/rand"
	"sync"
	"time"
)

// Source is the subset of math/rand used by the mock components
type Source interface {
	// Float64 returns a value in [0,1)
	Float64() float64
	// Intn returns a value in [0,n)
	Intn(n int) int
}

// Between returns a value in [min,max) drawn from src
func Between(src Source, min, max float64) float64 {
	return src.Float64()*(max-min) + min
}

// Locked is a goroutine-safe seeded source
type Locked struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a seeded source
func New(seed int64) *Locked {
	return &Locked{rng: rand.New(rand.NewSource(seed))}
}

// NewTimeSeeded creates a source seeded from the current time
func NewTimeSeeded() *Locked {
	return New(time.Now().UnixNano())
}

func (l *Locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

func (l *Locked) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

// Sequence replays fixed values in a loop. Intn maps the next value onto [0,n).
type Sequence struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequence creates a Sequence. An empty sequence always yields 0.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

func (s *Sequence) Intn(n int) int {
	if n <= 0 {
		panic("random: invalid argument to Intn")
	}
	i := int(s.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}
