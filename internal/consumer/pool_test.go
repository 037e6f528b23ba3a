package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_SamePropertySerialized(t *testing.T) {
	pool := NewPool(4, 64, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// 同一站点的任务必须按提交顺序串行执行
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		pool.Submit("villa-7", func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not complete")
	}

	require.Len(t, order, 20)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestPool_StablePropertyToWorkerMapping(t *testing.T) {
	pool := NewPool(4, 8, zap.NewNop())

	first := pool.workerFor("villa-7")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, pool.workerFor("villa-7"))
	}
}

func TestPool_FullQueueDropsTask(t *testing.T) {
	// 未启动的池：队列容量 1，第二个任务被丢弃而不是阻塞提交方
	pool := NewPool(1, 1, zap.NewNop())

	pool.Submit("villa-7", func(ctx context.Context) {})

	submitted := make(chan struct{})
	go func() {
		pool.Submit("villa-7", func(ctx context.Context) {})
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on full queue")
	}
}
