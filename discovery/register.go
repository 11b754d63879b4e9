package discovery

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Registration is a handle to a server's self-published etcd entry,
// returned by Register. Close deregisters the endpoint, mirroring the
// teacher's explicit `registry.Deregister` call in Server.Shutdown.
type Registration struct {
	client        *clientv3.Client
	key           string
	leaseID       clientv3.LeaseID
	stopKeepAlive context.CancelFunc
}

// Register publishes one endpoint under "{basePath}/{servicePath}/{endpointKey}"
// with a TTL-based lease, exactly as the teacher's EtcdRegistry.Register
// does, generalized from a single ServiceInstance struct to the flat
// metadata map EtcdDiscovery already understands. If the process dies
// without calling Close, the lease expires and the entry disappears on
// its own — the same "no ghost instances" property the teacher's comment
// calls out.
func Register(client *clientv3.Client, basePath, servicePath, endpointKey string, meta map[string]string, ttlSeconds int64) (*Registration, error) {
	ctx := context.Background()

	lease, err := client.Grant(ctx, ttlSeconds)
	if err != nil {
		return nil, err
	}

	key := basePathPrefix(basePath, servicePath) + endpointKey
	if _, err := client.Put(ctx, key, encodeMeta(meta), clientv3.WithLease(lease.ID)); err != nil {
		return nil, err
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	ch, err := client.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		cancel()
		return nil, err
	}

	// Drain KeepAlive responses so the channel never blocks etcd's client
	// internals, same as the teacher's `for range ch {}` goroutine.
	go func() {
		for range ch {
		}
	}()

	return &Registration{client: client, key: key, leaseID: lease.ID, stopKeepAlive: cancel}, nil
}

func basePathPrefix(basePath, servicePath string) string {
	if len(basePath) > 0 && basePath[len(basePath)-1] == '/' {
		basePath = basePath[:len(basePath)-1]
	}
	return basePath + "/" + servicePath + "/"
}

// Close stops lease renewal and deletes the registered key.
func (r *Registration) Close() error {
	r.stopKeepAlive()
	_, err := r.client.Delete(context.Background(), r.key)
	return err
}
