package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

// NATSConfig holds the connection settings for the NATS transport.
type NATSConfig struct {
	Servers       string // comma-separated server URLs
	NKeySeed      string // nkey seed for authentication (starts with SU)
	SubjectPrefix string // e.g. "dstatus" -> "dstatus.notice"
}

// NATS publishes notices and stats snapshots over NATS. Subscribers (bots,
// sibling dashboards) pick their subjects:
//
//	{prefix}.notice  offline/recovery notices
//	{prefix}.stats   the full snapshot map the push broadcaster emits
type NATS struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// ConnectNATS authenticates with the configured nkey seed and connects with
// unlimited reconnects, so a NATS outage degrades notices without ever
// failing the daemon.
func ConnectNATS(cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	kp, err := nkeys.FromSeed([]byte(cfg.NKeySeed))
	if err != nil {
		return nil, fmt.Errorf("invalid nkey seed: %w", err)
	}
	pubKey, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	log := logger.With(slog.String("component", "nats"))
	opts := []nats.Option{
		nats.Name("dstatus"),
		nats.Nkey(pubKey, func(nonce []byte) ([]byte, error) {
			return kp.Sign(nonce)
		}),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.PingInterval(30 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.Servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATS{nc: nc, prefix: cfg.SubjectPrefix, logger: log}, nil
}

// Notice implements Notifier.
func (n *NATS) Notice(ctx context.Context, msg string) {
	if err := n.nc.Publish(n.prefix+".notice", []byte(msg)); err != nil {
		n.logger.Warn("publish notice failed", slog.String("error", err.Error()))
	}
}

// PublishSnapshot publishes the serialized stats snapshot map. Used by the
// push broadcaster as a pub/sub alternative to the websocket fan-out.
func (n *NATS) PublishSnapshot(data []byte) {
	if err := n.nc.Publish(n.prefix+".stats", data); err != nil {
		n.logger.Warn("publish snapshot failed", slog.String("error", err.Error()))
	}
}

// Shutdown drains and closes the connection.
func (n *NATS) Shutdown(ctx context.Context) error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}
