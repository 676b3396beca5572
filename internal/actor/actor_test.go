package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsFnAndReturns(t *testing.T) {
	a := New(4)
	defer a.Close()

	ran := false
	err := a.Do(context.Background(), func() { ran = true })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDoSerializesConcurrentCallers(t *testing.T) {
	a := New(4)
	defer a.Close()

	counter := 0
	var wg sync.WaitGroup
	const n = 100
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Do(context.Background(), func() {
				current := counter
				counter = current + 1
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, n, counter)
}

func TestDoReturnsContextErrorWhenCancelledBeforeDispatch(t *testing.T) {
	a := New(0)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoReturnsCanceledAfterClose(t *testing.T) {
	a := New(1)
	a.Close()

	err := a.Do(context.Background(), func() {})
	assert.Error(t, err)
}

func TestDoRespectsDeadlineWhenMailboxBusy(t *testing.T) {
	a := New(0)
	defer a.Close()

	block := make(chan struct{})
	go func() {
		_ = a.Do(context.Background(), func() {
			<-block
		})
	}()
	time.Sleep(5 * time.Millisecond) // let the first job start running

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := a.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
}
