package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/andrejsstepanovs/zuul-build/models"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject builds are published on.
const DefaultSubject = "zuul.builds"

// Publisher is the part of *nats.Conn the NATS sink uses.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATS publishes each build as a JSON message. The build uuid is sent as
// the Nats-Msg-Id header so a JetStream stream drops redelivered builds.
type NATS struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// NewNATS connects to the server at url.
func NewNATS(url, subject string, opts ...nats.Option) (*NATS, error) {
	conn, err := nats.Connect(url, append([]nats.Option{nats.Name("zuul-build")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n := NewNATSPublisher(conn, subject)
	n.conn = conn

	slog.Info("NATS sink connected", "url", conn.ConnectedUrlRedacted(), "subject", n.subject)
	return n, nil
}

// NewNATSPublisher publishes through an existing connection, which stays
// owned by the caller.
func NewNATSPublisher(pub Publisher, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{pub: pub, subject: subject}
}

// Subject returns the subject builds are published on.
func (n *NATS) Subject() string { return n.subject }

func (n *NATS) Emit(ctx context.Context, build models.Build) error {
	data, err := json.Marshal(build)
	if err != nil {
		return fmt.Errorf("failed to marshal build %s: %w", build.UUID, err)
	}

	msg := nats.NewMsg(n.subject)
	msg.Header.Set(nats.MsgIdHdr, build.UUID)
	msg.Data = data

	if err := n.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish build %s: %w", build.UUID, err)
	}
	slog.Debug("Published build", "uuid", build.UUID, "subject", n.subject)
	return nil
}

// Close flushes pending messages and, when the sink opened the connection,
// drains it.
func (n *NATS) Close() error {
	if n.conn == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.pub.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("failed to flush NATS connection: %w", err)
		}
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
