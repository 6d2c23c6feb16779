package cancellation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenCancelsPrevious(t *testing.T) {
	var ops Operations
	first := ops.TokenFor(Fill)
	require.False(t, first.IsCancelled())

	second := ops.TokenFor(Fill)
	assert.True(t, first.IsCancelled())
	assert.False(t, second.IsCancelled())
}

func TestKindsAreIndependent(t *testing.T) {
	var ops Operations
	fill := ops.TokenFor(Fill)
	seek := ops.TokenFor(Seek)
	ops.Cancel(Seek)
	assert.False(t, fill.IsCancelled())
	assert.True(t, seek.IsCancelled())
}

func TestCancelAll(t *testing.T) {
	var ops Operations
	tokens := []*Token{ops.TokenFor(Fill), ops.TokenFor(Seek), ops.TokenFor(Replacement)}
	ops.CancelAll()
	for _, tok := range tokens {
		assert.True(t, tok.IsCancelled(), tok.Kind().String())
		err := tok.Check()
		require.Error(t, err)
		assert.True(t, IsCancelled(err))
	}
}

func TestSignalIsIdempotent(t *testing.T) {
	var ops Operations
	tok := ops.TokenFor(Fill)

	select {
	case <-tok.Acknowledged():
		t.Fatal("acknowledged before signal")
	default:
	}

	tok.Signal()
	tok.Signal()

	select {
	case <-tok.Acknowledged():
	case <-time.After(time.Second):
		t.Fatal("acknowledgment not delivered")
	}
}

func TestAcknowledgedOrResolved(t *testing.T) {
	select {
	case <-AcknowledgedOrResolved(nil):
	default:
		t.Fatal("nil token must resolve immediately")
	}
}
