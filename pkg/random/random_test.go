package random

import "testing"

func TestSequenceLoops(t *testing.T) {
	s := NewSequence(0.1, 0.9)
	want := []float64{0.1, 0.9, 0.1, 0.9}
	for i, w := range want {
		if got := s.Float64(); got != w {
			t.Errorf("value %d: expected %f, got %f", i, w, got)
		}
	}
}

func TestSequenceIntn(t *testing.T) {
	s := NewSequence(0, 0.5, 0.999)
	if got := s.Intn(3); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
	if got := s.Intn(3); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
	if got := s.Intn(3); got != 2 {
		t.Errorf("Expected 2, got %d", got)
	}
}

func TestEmptySequence(t *testing.T) {
	s := NewSequence()
	if got := s.Float64(); got != 0 {
		t.Errorf("Expected 0 from empty sequence, got %f", got)
	}
}

func TestSeededSourceIsReproducible(t *testing.T) {
	a, b := New(7), New(7)
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			t.Fatal("Expected identical sequences for identical seeds")
		}
	}
}

func TestBetween(t *testing.T) {
	s := NewSequence(0, 0.5)
	if got := Between(s, 2, 4); got != 2 {
		t.Errorf("Expected 2, got %f", got)
	}
	if got := Between(s, 2, 4); got != 3 {
		t.Errorf("Expected 3, got %f", got)
	}
}
