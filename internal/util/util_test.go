package util

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsInt32(t *testing.T) {
	tests := []struct {
		name  string
		input int
		want  int32
	}{
		{name: "pool size", input: 20, want: 20},
		{name: "negative", input: -5, want: -5},
		{name: "upper bound", input: math.MaxInt32, want: math.MaxInt32},
		{name: "lower bound", input: math.MinInt32, want: math.MinInt32},
		{name: "clamped high", input: math.MaxInt64, want: math.MaxInt32},
		{name: "clamped low", input: math.MinInt64, want: math.MinInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, AsInt32(tt.input))
		})
	}
}

func TestKeyedMutex(t *testing.T) {
	t.Run("serializes same key", func(t *testing.T) {
		km := NewKeyedMutex()
		counter := 0
		var wg sync.WaitGroup

		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := km.Lock("item-1")
				defer unlock()
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
			}()
		}
		wg.Wait()

		require.Equal(t, 50, counter)
		require.Zero(t, km.Len())
	})

	t.Run("different keys do not block", func(t *testing.T) {
		km := NewKeyedMutex()
		unlockA := km.Lock("a")
		defer unlockA()

		done := make(chan struct{})
		go func() {
			unlock := km.Lock("b")
			unlock()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("lock on b blocked behind a")
		}
		require.Equal(t, 1, km.Len())
	})
}
