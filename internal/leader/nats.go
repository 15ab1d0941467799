package leader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the JetStream KV bucket holding the lock key.
const DefaultBucket = "petfeeder-leader"

// NATSLocker uses a JetStream KV key as the lock. Create only succeeds when
// the key is absent, and the bucket TTL expires the key if the holder stops
// renewing.
type NATSLocker struct {
	kv     jetstream.KeyValue
	key    string
	holder string
	ttl    time.Duration
}

// NewNATSLocker opens (or creates) the bucket with a TTL of ttl.
func NewNATSLocker(ctx context.Context, js jetstream.JetStream, bucket, key, holder string, ttl time.Duration) (*NATSLocker, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		TTL:     ttl,
		History: 1,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		kv, err = js.KeyValue(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
		}
	}
	return &NATSLocker{kv: kv, key: key, holder: holder, ttl: ttl}, nil
}

func (l *NATSLocker) TTL() time.Duration { return l.ttl }

func (l *NATSLocker) TryLock(ctx context.Context) (Lease, error) {
	rev, err := l.kv.Create(ctx, l.key, l.value())
	if errors.Is(err, jetstream.ErrKeyExists) {
		return nil, ErrNotAcquired
	}
	if err != nil {
		return nil, fmt.Errorf("create leader key: %w", err)
	}
	return &natsLease{l: l, revision: rev}, nil
}

func (l *NATSLocker) value() []byte {
	return []byte(fmt.Sprintf("%s:%d", l.holder, time.Now().Unix()))
}

type natsLease struct {
	l        *NATSLocker
	mu       sync.Mutex
	revision uint64
}

func (n *natsLease) Renew(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	rev, err := n.l.kv.Update(ctx, n.l.key, n.l.value(), n.revision)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLeaseLost, err)
	}
	n.revision = rev
	return nil
}

func (n *natsLease) Release(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.l.kv.Delete(ctx, n.l.key, jetstream.LastRevision(n.revision))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete leader key: %w", err)
	}
	return nil
}
