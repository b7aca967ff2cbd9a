package broker

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"notifyhub/pkg/metrics"
)

// OverflowPolicy 订阅者缓冲区满时的处理方式
type OverflowPolicy int

const (
	// DropOldest 丢弃最早的一条，保留最新事件
	DropOldest OverflowPolicy = iota
	// Disconnect 移除并关闭该订阅者，由客户端重连后通过 List 补齐
	Disconnect
)

func (p OverflowPolicy) String() string {
	switch p {
	case Disconnect:
		return "disconnect"
	default:
		return "drop_oldest"
	}
}

// ParseOverflowPolicy 无法识别时返回 DropOldest
func ParseOverflowPolicy(s string) OverflowPolicy {
	if s == "disconnect" {
		return Disconnect
	}
	return DropOldest
}

const DefaultBufferSize = 64

type Option func(*options)

type options struct {
	bufferSize int
	policy     OverflowPolicy
	logger     *zap.Logger
}

func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(o *options) { o.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Broker 进程内发布订阅。Publish 同步且不阻塞，只投递给当前已注册的订阅者，不保留历史
type Broker[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool

	bufferSize int
	policy     OverflowPolicy
	logger     *zap.Logger
}

func New[T any](opts ...Option) *Broker[T] {
	o := options{bufferSize: DefaultBufferSize, policy: DropOldest, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Broker[T]{
		subs:       make(map[uint64]*Subscription[T]),
		bufferSize: o.bufferSize,
		policy:     o.policy,
		logger:     o.logger,
	}
}

// Subscription 单个订阅者，Events 在取消或被断开后关闭
type Subscription[T any] struct {
	id      uint64
	ch      chan T
	match   func(T) bool
	broker  *Broker[T]
	once    sync.Once
	dropped atomic.Uint64
}

func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Dropped 因缓冲区满被丢弃的事件数
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close 取消订阅，可重复调用
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if s.broker != nil {
			s.broker.remove(s.id)
		}
	})
}

// Subscribe 注册订阅者；match 为 nil 时接收全部事件
func (b *Broker[T]) Subscribe(match func(T) bool) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{
		ch:    make(chan T, b.bufferSize),
		match: match,
	}
	if b.closed {
		close(sub.ch)
		return sub
	}

	b.nextID++
	sub.id = b.nextID
	sub.broker = b
	b.subs[sub.id] = sub
	metrics.BrokerSubscribers.Inc()

	b.logger.Debug("Subscriber registered", zap.Uint64("subscriber_id", sub.id), zap.Int("subscribers", len(b.subs)))
	return sub
}

// Publish 投递给所有匹配的订阅者，没有订阅者时什么也不做
func (b *Broker[T]) Publish(event T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	metrics.BrokerEventsPublished.Inc()

	for id, sub := range b.subs {
		if sub.match != nil && !sub.match(event) {
			continue
		}

		select {
		case sub.ch <- event:
			continue
		default:
		}

		metrics.IncrementBrokerDropped(b.policy.String())
		sub.dropped.Add(1)

		if b.policy == Disconnect {
			b.logger.Warn("Subscriber buffer full, disconnecting", zap.Uint64("subscriber_id", id))
			b.removeLocked(id)
			continue
		}

		// 持有锁时只有这里写入，腾出一个位置后发送必然成功
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- event:
		default:
		}
		b.logger.Debug("Subscriber buffer full, dropped oldest event", zap.Uint64("subscriber_id", id))
	}
}

// Len 当前订阅者数量
func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close 关闭所有订阅，之后的 Subscribe 返回已关闭的订阅
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id := range b.subs {
		b.removeLocked(id)
	}
	b.logger.Info("Broker closed")
}

func (b *Broker[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *Broker[T]) removeLocked(id uint64) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	metrics.BrokerSubscribers.Dec()
}
