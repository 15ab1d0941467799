package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fentz26/petfeeder/internal/changefeed"
	"github.com/fentz26/petfeeder/internal/config"
	"github.com/fentz26/petfeeder/internal/leader"
	"github.com/fentz26/petfeeder/internal/ledger"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/notify"
	"github.com/fentz26/petfeeder/internal/store"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// changeFeed is both ends of a change stream.
type changeFeed interface {
	changefeed.Publisher
	changefeed.Subscriber
}

// natsConn is the shared NATS connection plus the embedded server when the
// daemon runs one.
type natsConn struct {
	nc *nats.Conn
	ns *server.Server
}

func (c *natsConn) Close() {
	if c == nil {
		return
	}
	if c.nc != nil {
		c.nc.Drain()
	}
	if c.ns != nil {
		c.ns.Shutdown()
		c.ns.WaitForShutdown()
	}
}

func needsNATS(cfg *config.Config) bool {
	return cfg.Leader.Backend == config.BackendNATS || cfg.ChangeFeed.Backend == config.BackendNATS
}

// connectNATS dials the configured server, starting the embedded one first
// when asked. It returns nil when no section uses NATS.
func connectNATS(cfg *config.Config, embed bool, log logx.Logger) (*natsConn, error) {
	if !needsNATS(cfg) && !(embed && cfg.NATS.Embedded) {
		return nil, nil
	}

	conn := &natsConn{}
	url := cfg.NATS.URL
	if embed && cfg.NATS.Embedded {
		ns, err := server.NewServer(&server.Options{
			ServerName: cfg.NATS.Name,
			Host:       "0.0.0.0",
			Port:       cfg.NATS.Port,
			JetStream:  true,
			StoreDir:   cfg.NATS.StoreDir,
			NoLog:      true,
			NoSigs:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedded nats: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded nats not ready on port %d", cfg.NATS.Port)
		}
		conn.ns = ns
		url = ns.ClientURL()
		log.Info("embedded nats started", logx.String("url", url))
	}

	nc, err := nats.Connect(url,
		nats.Name(cfg.NATS.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logx.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	conn.nc = nc
	return conn, nil
}

func buildChangeFeed(cfg *config.Config, conn *natsConn, log logx.Logger) changeFeed {
	switch cfg.ChangeFeed.Backend {
	case config.BackendNATS:
		return changefeed.NewNATS(conn.nc, cfg.ChangeFeed.SubjectPrefix, log)
	case config.BackendLocal:
		return changefeed.NewLocal()
	}
	return nil
}

func buildLocker(ctx context.Context, cfg *config.Config, st *store.Store, conn *natsConn) (leader.Locker, error) {
	holder := leader.HolderID()
	switch cfg.Leader.Backend {
	case config.BackendFile:
		return leader.NewFileLocker(cfg.Leader.LockFile), nil
	case config.BackendNATS:
		js, err := jetstream.New(conn.nc)
		if err != nil {
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		return leader.NewNATSLocker(ctx, js, cfg.Leader.Bucket, cfg.Leader.Name, holder, cfg.Leader.TTL)
	}
	return leader.NewStoreLocker(st, cfg.Leader.Name, holder, cfg.Leader.TTL), nil
}

func buildLedger(ctx context.Context, cfg *config.Config, st *store.Store, accountID string) (*ledger.Ledger, error) {
	if cfg.Ledger.Backend == config.BackendFile {
		return ledger.OpenFile(ctx, cfg.Ledger.Dir, accountID)
	}
	return ledger.OpenStore(ctx, st, accountID)
}

func buildNotifier(cfg *config.Config, log logx.Logger) (notify.Notifier, error) {
	switch cfg.Notify.Backend {
	case config.BackendTelegram:
		return notify.NewTelegram(cfg.Notify.Telegram)
	case config.BackendLog:
		return notify.NewLog(log), nil
	}
	return notify.Nop{}, nil
}
