package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root for command changes.
const DefaultSubjectPrefix = "petfeeder.commands"

// NATS publishes changes on "<prefix>.<device>" so bridges on other hosts
// can follow the queue.
type NATS struct {
	nc     *nats.Conn
	prefix string
	log    logx.Logger
}

// NewNATS wraps an established connection.
func NewNATS(nc *nats.Conn, prefix string, log logx.Logger) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{nc: nc, prefix: prefix, log: log}
}

// Publish sends c to the device subject.
func (n *NATS) Publish(_ context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := n.nc.Publish(n.subject(c.Command.DeviceID), data); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe listens on one device subject, or all of them when f.DeviceID
// is empty. Status filtering happens client side.
func (n *NATS) Subscribe(ctx context.Context, f Filter) (<-chan Change, error) {
	subject := n.prefix + ".>"
	if f.DeviceID != "" {
		subject = n.subject(f.DeviceID)
	}

	out := make(chan Change, subscriberBuffer)
	msgs := make(chan *nats.Msg, subscriberBuffer)
	sub, err := n.nc.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := n.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgs:
				var c Change
				if err := json.Unmarshal(m.Data, &c); err != nil {
					n.log.Warn("dropping malformed change", logx.String("subject", m.Subject), logx.Err(err))
					continue
				}
				if !f.Match(c) {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (n *NATS) subject(deviceID string) string {
	return n.prefix + "." + subjectToken(deviceID)
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}
