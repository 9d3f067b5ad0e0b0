package weakref

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpgradeBeforeDrop(t *testing.T) {
	s := NewStrong(42)
	w := s.Weak()

	v, ok := w.Upgrade()
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestUpgradeAfterDrop(t *testing.T) {
	s := NewStrong("handler")
	w := s.Weak()

	s.Drop()

	_, ok := w.Upgrade()
	require.False(t, ok)
}

func TestMultipleWeakHandlesShareLiveness(t *testing.T) {
	s := NewStrong([]int{1, 2, 3})
	w1 := s.Weak()
	w2 := s.Weak()

	s.Drop()

	_, ok1 := w1.Upgrade()
	_, ok2 := w2.Upgrade()
	require.False(t, ok1)
	require.False(t, ok2)
}

func TestDropIsIdempotent(t *testing.T) {
	s := NewStrong(1)
	s.Drop()
	require.NotPanics(t, func() { s.Drop() })
}
