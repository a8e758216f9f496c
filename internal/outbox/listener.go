package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var errMissingConnection = errors.New("outbox: notification connection is required")

// NotificationConn is the subset of *pgx.Conn a Listener needs.
type NotificationConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

// Listener turns NOTIFY messages on the changes channel into wake-up
// signals. Payloads are ignored; readers always tail by id.
type Listener struct {
	conn    NotificationConn
	channel string
	logger  *zap.Logger
}

// NewListener constructs a Listener on NotifyChannel.
func NewListener(conn NotificationConn, logger *zap.Logger) (*Listener, error) {
	if conn == nil {
		return nil, errMissingConnection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{conn: conn, channel: NotifyChannel, logger: logger}, nil
}

// Run subscribes and forwards a non-blocking signal to wake for every
// notification until ctx ends or the connection fails.
func (l *Listener) Run(ctx context.Context, wake chan<- struct{}) error {
	if _, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("outbox: listen %s: %w", l.channel, err)
	}
	l.logger.Info("listening for outbox notifications", zap.String("channel", l.channel))
	for {
		notification, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("outbox: wait for notification: %w", err)
		}
		if notification.Channel != l.channel {
			continue
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
