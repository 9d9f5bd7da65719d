package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ── PostgreSQL LISTEN/NOTIFY ──
// 多实例部署时经 pg_notify 广播，每个实例的 Listener 再转发给本地 Hub

// PGNotifier 通过 pg_notify 发布事件
type PGNotifier struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPGNotifier 创建 PGNotifier
func NewPGNotifier(pool *pgxpool.Pool, channel string) *PGNotifier {
	return &PGNotifier{pool: pool, channel: channel}
}

// Publish 实现 Publisher
func (n *PGNotifier) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = n.pool.Exec(ctx, "SELECT pg_notify($1, $2)", n.channel, string(payload))
	return err
}

// PGListener 监听频道并把事件转发给 Hub
type PGListener struct {
	pool    *pgxpool.Pool
	channel string
	hub     *Hub
	logger  *zap.Logger
}

// NewPGListener 创建 PGListener
func NewPGListener(pool *pgxpool.Pool, channel string, hub *Hub, logger *zap.Logger) *PGListener {
	return &PGListener{pool: pool, channel: channel, hub: hub, logger: logger}
}

// Run 阻塞监听直到 ctx 结束，连接断开后退避重连
func (l *PGListener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("实时监听中断，准备重连", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return err
	}
	l.logger.Info("实时监听已建立", zap.String("channel", l.channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var e Event
		if err := json.Unmarshal([]byte(n.Payload), &e); err != nil {
			l.logger.Warn("忽略无法解析的实时事件", zap.Error(err))
			continue
		}
		if e.Table == "" {
			l.logger.Warn("忽略缺少表名的实时事件")
			continue
		}
		l.hub.Publish(ctx, e)
	}
}

// ErrNoPool postgres 模式缺少连接池
var ErrNoPool = errors.New("realtime: postgres 模式需要 pgx 连接池")

// Setup 按模式选择发布方式
// local：直接发布到 Hub；postgres：经 pg_notify 发布，并返回需要运行的 Listener
func Setup(mode string, pool *pgxpool.Pool, channel string, hub *Hub, logger *zap.Logger) (Publisher, *PGListener, error) {
	if mode != "postgres" {
		return hub, nil, nil
	}
	if pool == nil {
		return nil, nil, ErrNoPool
	}
	return NewPGNotifier(pool, channel), NewPGListener(pool, channel, hub, logger), nil
}
