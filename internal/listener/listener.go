package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Refresher reloads ledger state after the database signals a change.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Conn is the part of a dedicated pgx connection the listener needs.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

// Dialer opens a fresh connection for LISTEN; release returns it.
type Dialer func(ctx context.Context) (conn Conn, release func(), err error)

// PoolDialer holds one pooled connection per LISTEN session.
func PoolDialer(pool *pgxpool.Pool) Dialer {
	return func(ctx context.Context) (Conn, func(), error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return c.Conn(), c.Release, nil
	}
}

const debounce = 200 * time.Millisecond

// ListenAndRefresh subscribes to channel and calls r.Refresh for every
// notification burst until ctx is done. A broken connection is re-dialed
// after a jittered backoff, followed by a refresh to catch anything
// missed while disconnected.
func ListenAndRefresh(ctx context.Context, dial Dialer, r Refresher, channel string, baseBackoff time.Duration) {
	first := true
	for ctx.Err() == nil {
		err := listenOnce(ctx, dial, r, channel, !first)
		first = false
		if ctx.Err() != nil {
			break
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("ledger listener")
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
	log.Info().Msg("listener stopped")
}

func listenOnce(ctx context.Context, dial Dialer, r Refresher, channel string, catchUp bool) error {
	conn, release, err := dial(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for ledger changes")

	if catchUp {
		refresh(ctx, r, channel)
	}

	ntfs, errc, stop := readNotifications(ctx, conn)
	defer stop()

	// leading edge refreshes at once; anything suppressed inside the
	// debounce window gets one trailing refresh when the window closes
	var (
		lastRefresh time.Time
		trailing    *time.Timer
		trailingC   <-chan time.Time
	)
	defer func() {
		if trailing != nil {
			trailing.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case ntf := <-ntfs:
			if wait := debounce - time.Since(lastRefresh); wait > 0 {
				if trailingC == nil {
					trailing = time.NewTimer(wait)
					trailingC = trailing.C
				}
				continue
			}
			if trailing != nil {
				trailing.Stop()
				trailingC = nil
			}
			lastRefresh = time.Now()
			log.Debug().Str("channel", ntf.Channel).Str("payload", ntf.Payload).Msg("ledger advanced; refreshing")
			refresh(ctx, r, channel)
		case <-trailingC:
			trailingC = nil
			lastRefresh = time.Now()
			log.Debug().Str("channel", channel).Msg("trailing refresh after notification burst")
			refresh(ctx, r, channel)
		}
	}
}

// readNotifications pumps conn's notifications into a channel. stop ends
// the pump and waits for it, so conn is idle once stop returns.
func readNotifications(ctx context.Context, conn Conn) (<-chan *pgconn.Notification, <-chan error, func()) {
	ctx, cancel := context.WithCancel(ctx)
	ntfs := make(chan *pgconn.Notification)
	errc := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			ntf, err := conn.WaitForNotification(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case ntfs <- ntf:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ntfs, errc, func() {
		cancel()
		<-done
	}
}

func refresh(ctx context.Context, r Refresher, channel string) {
	if err := r.Refresh(ctx); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("refresh ledger")
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
