// Package ratelimit 提供按 key 计数的固定窗口限流能力。
//
// 登录接口按客户端 IP 消耗配额；单实例部署使用内存实现，多实例部署使用 Redis 实现。
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result 一次消耗的结果
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter 限流能力接口
type Limiter interface {
	// Consume 消耗一次配额
	Consume(ctx context.Context, key string) (Result, error)
	// Reset 清空 key 的计数（登录成功时调用）
	Reset(ctx context.Context, key string) error
}

// ── 内存实现 ──

type window struct {
	start time.Time
	count int
}

// Memory 进程内固定窗口限流器
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*window
	now     func() time.Time
	calls   int
}

// NewMemory 创建内存限流器：window 时长内最多 limit 次
func NewMemory(limit int, win time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  win,
		entries: make(map[string]*window),
		now:     time.Now,
	}
}

// Consume 实现 Limiter
func (m *Memory) Consume(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%256 == 0 {
		m.pruneLocked(now)
	}

	w, ok := m.entries[key]
	if !ok || now.Sub(w.start) >= m.window {
		w = &window{start: now}
		m.entries[key] = w
	}
	w.count++

	retryAfter := m.window - now.Sub(w.start)
	if w.count > m.limit {
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}
	return Result{Allowed: true, Remaining: m.limit - w.count, RetryAfter: retryAfter}, nil
}

// Reset 实现 Limiter
func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// pruneLocked 清理已过期窗口，调用方需持有锁
func (m *Memory) pruneLocked(now time.Time) {
	for k, w := range m.entries {
		if now.Sub(w.start) >= m.window {
			delete(m.entries, k)
		}
	}
}

// ── Redis 实现 ──

// Counter Redis 计数能力（pkg/redis.Client 满足该接口）
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Del(ctx context.Context, key string) error
}

// Redis 基于 Redis INCR + EXPIRE 的跨实例限流器
type Redis struct {
	counter Counter
	prefix  string
	limit   int
	window  time.Duration
}

// NewRedis 创建 Redis 限流器
func NewRedis(counter Counter, prefix string, limit int, win time.Duration) *Redis {
	return &Redis{counter: counter, prefix: prefix, limit: limit, window: win}
}

// Consume 实现 Limiter
func (r *Redis) Consume(ctx context.Context, key string) (Result, error) {
	n, ttl, err := r.counter.IncrWindow(ctx, r.prefix+key, r.window)
	if err != nil {
		return Result{}, err
	}
	if ttl < 0 {
		ttl = r.window
	}
	if n > int64(r.limit) {
		return Result{Allowed: false, RetryAfter: ttl}, nil
	}
	return Result{Allowed: true, Remaining: r.limit - int(n), RetryAfter: ttl}, nil
}

// Reset 实现 Limiter
func (r *Redis) Reset(ctx context.Context, key string) error {
	return r.counter.Del(ctx, r.prefix+key)
}
