package consumer

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
)

// task worker 队列中的任务
type task func(ctx context.Context)

// Pool 按站点串行的 worker 池
// 站点按ID哈希到固定 worker，站点内事件处理严格串行（单写者），
// 跨站点互不共享可变状态；升级节拍与事件经同一队列互斥
type Pool struct {
	workers   []chan task
	queueSize int
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewPool 创建 worker 池
func NewPool(workerCount, queueSize int, logger *zap.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	workers := make([]chan task, workerCount)
	for i := range workers {
		workers[i] = make(chan task, queueSize)
	}
	return &Pool{
		workers:   workers,
		queueSize: queueSize,
		logger:    logger,
	}
}

// Start 启动全部 worker（非阻塞）
func (p *Pool) Start(ctx context.Context) {
	for i, ch := range p.workers {
		p.wg.Add(1)
		go p.run(ctx, i, ch)
	}
}

// run 单个 worker 循环
func (p *Pool) run(ctx context.Context, id int, ch chan task) {
	defer p.wg.Done()
	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker stopped", zap.Int("worker_id", id))
			return
		case t := <-ch:
			t(ctx)
		}
	}
}

// Submit 提交任务到站点所属 worker
// 队列满时丢弃并记录（事件可由重投递恢复，去重保证无重复效果）
func (p *Pool) Submit(propertyID string, t func(ctx context.Context)) {
	idx := p.workerFor(propertyID)
	select {
	case p.workers[idx] <- t:
	default:
		p.logger.Warn("Worker queue full, task dropped",
			zap.String("property_id", propertyID),
			zap.Int("worker_id", idx),
		)
	}
}

// workerFor 站点到 worker 的哈希映射
func (p *Pool) workerFor(propertyID string) int {
	h := fnv.New32a()
	h.Write([]byte(propertyID))
	return int(h.Sum32() % uint32(len(p.workers)))
}

// Wait 等待全部 worker 退出
func (p *Pool) Wait() {
	p.wg.Wait()
}
