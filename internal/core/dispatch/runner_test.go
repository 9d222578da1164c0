package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umi3d/umisync/internal/core/dto"
	"github.com/umi3d/umisync/internal/core/operation"
)

func TestRunnerAppliesInArrivalOrder(t *testing.T) {
	d, reg := newDispatcher(t)
	var mu sync.Mutex
	var failures []error
	runner := d.NewRunner(4, func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	})

	ctx := context.Background()
	go func() { _ = runner.Run(ctx) }()

	load := operation.NewTransaction(true, operation.Load(dto.NewEntityDto(1, dto.DtypeNode)))
	require.NoError(t, runner.Enqueue(ctx, Payload{Data: load.ToBytes()}))
	for i := range int32(20) {
		tx := operation.NewTransaction(true, operation.Set(1, dto.PropertyName, dto.Int32(i)))
		require.NoError(t, runner.Enqueue(ctx, Payload{Data: tx.ToBytes()}))
	}
	raw, err := operation.MarshalTransactionJSON(operation.NewTransaction(true, operation.Set(1, dto.PropertyVisible, dto.Bool(true))))
	require.NoError(t, err)
	require.NoError(t, runner.Enqueue(ctx, Payload{Data: raw, Object: true}))
	require.NoError(t, runner.Enqueue(ctx, Payload{Data: []byte{0xff}}))

	runner.Close()
	select {
	case <-runner.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	v, ok := property(t, reg, 1, dto.PropertyName)
	require.True(t, ok)
	assert.True(t, v.Equal(dto.Int32(19)))
	_, ok = property(t, reg, 1, dto.PropertyVisible)
	assert.True(t, ok)

	mu.Lock()
	assert.Len(t, failures, 1)
	mu.Unlock()

	assert.ErrorIs(t, runner.Enqueue(ctx, Payload{}), ErrRunnerClosed)
}

func TestRunnerStopsWithContext(t *testing.T) {
	d, _ := newDispatcher(t)
	runner := d.NewRunner(0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- runner.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)

	blocked, stop := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()
	require.NoError(t, runner.Enqueue(blocked, Payload{}))
	assert.ErrorIs(t, runner.Enqueue(blocked, Payload{}), context.DeadlineExceeded)
}
