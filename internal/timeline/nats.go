package timeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSOptions describe how records are mirrored to NATS JetStream.
type NATSOptions struct {
	URL           string
	User          string
	Password      string
	SubjectPrefix string
	Stream        string
	MaxBytes      int64
	DupeWindow    time.Duration
}

func (o *NATSOptions) setDefaults() {
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.SubjectPrefix == "" {
		o.SubjectPrefix = "aura"
	}
	if o.Stream == "" {
		o.Stream = "aura_commands"
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 1024 * 1024 * 1024
	}
	if o.DupeWindow == 0 {
		o.DupeWindow = 2 * time.Minute
	}
}

// Mirror publishes records to a JetStream stream, one subject per console.
type Mirror struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	opts   NATSOptions
	logger *slog.Logger
}

func NewMirror(ctx context.Context, opts NATSOptions, logger *slog.Logger) (*Mirror, error) {
	opts.setDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	natsOpts := []nats.Option{nats.Name("aura")}
	if opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.User, opts.Password))
	}
	conn, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	m := &Mirror{conn: conn, js: js, opts: opts, logger: logger}
	if err := m.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *Mirror) Close() {
	if m.conn != nil {
		_ = m.conn.Drain()
		m.conn.Close()
	}
}

func (m *Mirror) ensureStream(ctx context.Context) error {
	cfg := &nats.StreamConfig{
		Name:       m.opts.Stream,
		Subjects:   []string{m.wildcard()},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxMsgs:    -1,
		MaxBytes:   m.opts.MaxBytes,
		Discard:    nats.DiscardOld,
		Duplicates: m.opts.DupeWindow,
	}
	if _, err := m.js.StreamInfo(cfg.Name, nats.Context(ctx)); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			_, addErr := m.js.AddStream(cfg, nats.Context(ctx))
			return addErr
		}
		return err
	}
	_, err := m.js.UpdateStream(cfg, nats.Context(ctx))
	return err
}

// Record publishes rec. The record id doubles as the JetStream message id so
// retries inside the dupe window are not stored twice.
func (m *Mirror) Record(ctx context.Context, rec Record) error {
	payload, err := rec.Marshal()
	if err != nil {
		return err
	}
	_, err = m.js.Publish(m.Subject(rec.Console), payload, nats.MsgId("cmd:"+rec.ID), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// Replay delivers every stored record to fn, oldest first.
func (m *Mirror) Replay(ctx context.Context, fn func(Record) error) error {
	sub, err := m.js.PullSubscribe(
		m.wildcard(),
		"",
		nats.BindStream(m.opts.Stream),
		nats.DeliverAll(),
		nats.AckExplicit(),
	)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := sub.Fetch(64, nats.MaxWait(500*time.Millisecond))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return err
		}
		for _, msg := range msgs {
			rec, err := Unmarshal(msg.Data)
			if err != nil {
				m.logger.Error("timeline replay decode", "err", err)
				_ = msg.Ack()
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
			_ = msg.Ack()
		}
		if len(msgs) == 0 {
			return nil
		}
	}
}

// Subject is the subject records of console are published on.
func (m *Mirror) Subject(console string) string {
	return subject(m.opts.SubjectPrefix, console)
}

func (m *Mirror) wildcard() string {
	return m.opts.SubjectPrefix + ".commands.*"
}

func subject(prefix, console string) string {
	c := strings.TrimSpace(console)
	if c == "" {
		c = "unknown"
	}
	return fmt.Sprintf("%s.commands.%s", prefix, c)
}
