// Package discovery implements spec.md §4.7: presenting the endpoint set
// for a service to zero or more selector.Selectors, either from a fixed
// map (StaticDiscovery) or from an etcd-backed directory watch
// (EtcdDiscovery).
//
// It generalizes the teacher's registry.Registry — which returned a
// []ServiceInstance slice from Discover and a <-chan []ServiceInstance
// from Watch, serving exactly one caller per Watch — into a push model
// that fans changes out to every selector registered via AddSelector,
// matching spec.md's "every change pushes the new set to every
// registered selector".
package discovery

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"rpcx/selector"
)

// Discovery presents an endpoint set to selectors and keeps it current.
type Discovery interface {
	// GetServices returns the current endpoint set: key -> metadata.
	GetServices() map[string]map[string]string

	// AddSelector registers s to receive every future update. s is also
	// immediately pushed the current snapshot.
	AddSelector(s selector.Selector)

	Close() error
}

// ParseEndpoint splits an endpoint key of the form "<transport>@<host:port>"
// into its transport and address, defaulting transport to "tcp" when the
// '@' is absent (spec.md §4.7).
func ParseEndpoint(key string) (network, addr string) {
	if i := strings.IndexByte(key, '@'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "tcp", key
}

// broadcaster is the shared push-fanout logic used by both Discovery
// implementations below.
type broadcaster struct {
	mu        sync.RWMutex
	services  map[string]map[string]string
	selectors []selector.Selector
}

func (b *broadcaster) snapshot() map[string]map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]map[string]string, len(b.services))
	for k, v := range b.services {
		out[k] = v
	}
	return out
}

func (b *broadcaster) addSelector(s selector.Selector) {
	b.mu.Lock()
	b.selectors = append(b.selectors, s)
	snap := make(map[string]map[string]string, len(b.services))
	for k, v := range b.services {
		snap[k] = v
	}
	b.mu.Unlock()
	s.Update(snap)
}

func (b *broadcaster) set(services map[string]map[string]string) {
	b.mu.Lock()
	b.services = services
	sels := append([]selector.Selector(nil), b.selectors...)
	b.mu.Unlock()

	for _, s := range sels {
		s.Update(services)
	}
}

// StaticDiscovery is constructed from a fixed endpoint map; UpdateServers
// replaces the set and pushes it to every registered selector (spec.md
// §4.7 "Static"). Promoted here from the teacher's test-only MockRegistry
// to a first-class production type.
type StaticDiscovery struct {
	b broadcaster
}

// NewStaticDiscovery creates a StaticDiscovery seeded with endpoints.
func NewStaticDiscovery(endpoints map[string]map[string]string) *StaticDiscovery {
	d := &StaticDiscovery{}
	d.b.services = endpoints
	return d
}

func (d *StaticDiscovery) GetServices() map[string]map[string]string { return d.b.snapshot() }

func (d *StaticDiscovery) AddSelector(s selector.Selector) { d.b.addSelector(s) }

// UpdateServers replaces the endpoint set and pushes it to every selector
// registered so far.
func (d *StaticDiscovery) UpdateServers(endpoints map[string]map[string]string) {
	d.b.set(endpoints)
}

func (d *StaticDiscovery) Close() error { return nil }

// EtcdDiscovery lists and watches "{basePath}/{servicePath}/" in etcd,
// generalizing the teacher's EtcdRegistry.Discover+Watch (which re-fetched
// the entire list on every watch event and handed it to exactly one
// channel reader) into a push model feeding every registered selector.
type EtcdDiscovery struct {
	b      broadcaster
	client *clientv3.Client
	prefix string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEtcdDiscovery lists the initial endpoint set under
// "{basePath}/{servicePath}/" and starts the background watch loop.
func NewEtcdDiscovery(client *clientv3.Client, basePath, servicePath string) (*EtcdDiscovery, error) {
	prefix := strings.TrimSuffix(basePath, "/") + "/" + servicePath + "/"

	ctx, cancel := context.WithCancel(context.Background())
	d := &EtcdDiscovery{
		client: client,
		prefix: prefix,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := d.list(ctx); err != nil {
		cancel()
		return nil, err
	}

	go d.watchLoop(ctx)
	return d, nil
}

func (d *EtcdDiscovery) endpointKey(fullKey string) string {
	return strings.TrimPrefix(fullKey, d.prefix)
}

func (d *EtcdDiscovery) list(ctx context.Context) error {
	resp, err := d.client.Get(ctx, d.prefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}

	services := make(map[string]map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		services[d.endpointKey(string(kv.Key))] = decodeMeta(kv.Value)
	}
	d.b.set(services)
	return nil
}

// watchLoop is the background task performing the recursive watch
// (spec.md §4.7): create/update events upsert, delete/expire events
// remove, and every change re-pushes the full set to every selector.
// Transient failures (a dropped watch channel) are logged and the watch
// is re-established after a short backoff rather than tearing the
// Discovery down.
func (d *EtcdDiscovery) watchLoop(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		watchChan := d.client.Watch(ctx, d.prefix, clientv3.WithPrefix())
		d.consume(ctx, watchChan)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
			log.Printf("discovery: etcd watch on %s dropped, retrying", d.prefix)
		}
	}
}

func (d *EtcdDiscovery) consume(ctx context.Context, watchChan clientv3.WatchChan) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-watchChan:
			if !ok {
				return
			}
			if resp.Err() != nil {
				log.Printf("discovery: watch error on %s: %v", d.prefix, resp.Err())
				return
			}
			d.applyEvents(resp.Events)
		}
	}
}

func (d *EtcdDiscovery) applyEvents(events []*clientv3.Event) {
	services := d.b.snapshot()
	for _, ev := range events {
		key := d.endpointKey(string(ev.Kv.Key))
		switch ev.Type {
		case clientv3.EventTypePut:
			services[key] = decodeMeta(ev.Kv.Value)
		case clientv3.EventTypeDelete:
			delete(services, key)
		}
	}
	d.b.set(services)
}

func (d *EtcdDiscovery) GetServices() map[string]map[string]string { return d.b.snapshot() }

func (d *EtcdDiscovery) AddSelector(s selector.Selector) { d.b.addSelector(s) }

func (d *EtcdDiscovery) Close() error {
	d.cancel()
	<-d.done
	return nil
}

// decodeMeta turns an etcd value into endpoint metadata. The value is a
// flat "k1=v1,k2=v2" list (the form Register in register.go writes); malformed
// entries degrade to empty metadata rather than failing the whole list.
func decodeMeta(value []byte) map[string]string {
	meta := make(map[string]string)
	for _, pair := range strings.Split(string(value), ",") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		meta[kv[0]] = kv[1]
	}
	return meta
}

func encodeMeta(meta map[string]string) string {
	var b strings.Builder
	first := true
	for k, v := range meta {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}
