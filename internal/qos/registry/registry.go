package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	rendezvous "github.com/dgryski/go-rendezvous"
)

// ServiceInfo is what a Lister reports about a single service on a host.
type ServiceInfo struct {
	ID   string
	Type Type
}

// DiscoverResult is the per-host outcome of a service discovery probe.
type DiscoverResult struct {
	Services []ServiceInfo
	Version  string
}

// Lister is the subset of the fleet actuator the registry depends on to
// enumerate services. It is implemented by internal/qos/actuator.Client.
type Lister interface {
	DiscoverServices(ctx context.Context, host string) (DiscoverResult, error)
}

// Registry is the immutable (after Detect) map from service id to host, plus
// per-type counts. It is safe for concurrent read access after Detect
// returns; Detect itself must not be called concurrently with reads.
type Registry struct {
	mu          sync.RWMutex
	services    map[string]Service
	hosts       map[string]*Host
	ostCount    int
	clientCount int
}

// New returns an empty registry. Call Detect before using it.
func New() *Registry {
	return &Registry{
		services: make(map[string]Service),
		hosts:    make(map[string]*Host),
	}
}

// probeWorkers bounds how many discovery probes run concurrently regardless
// of fleet size, so one slow/unreachable host cannot starve the others.
const probeWorkers = 8

func hostHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Detect runs the actuator's list-services probe against every host and
// fills the flat service-id -> host mapping. Hosts are assigned to a bounded
// pool of workers via rendezvous hashing, so the same host always lands on
// the same worker across repeated calls (useful for log correlation) while
// spreading the fan-out across the pool. Duplicate service ids across hosts
// are reported as ErrDuplicateService.
func (r *Registry) Detect(ctx context.Context, lister Lister, hostnames []string) error {
	if len(hostnames) == 0 {
		return nil
	}

	workerCount := probeWorkers
	if workerCount > len(hostnames) {
		workerCount = len(hostnames)
	}
	workerNames := make([]string, workerCount)
	for i := range workerNames {
		workerNames[i] = fmt.Sprintf("probe-%d", i)
	}
	rv := rendezvous.New(workerNames, hostHash)

	buckets := make(map[string][]string, workerCount)
	for _, host := range hostnames {
		w := rv.Lookup(host)
		buckets[w] = append(buckets[w], host)
	}

	type probeResult struct {
		host string
		res  DiscoverResult
		err  error
	}
	resultsCh := make(chan probeResult, len(hostnames))
	var wg sync.WaitGroup
	for _, hosts := range buckets {
		hosts := hosts
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, host := range hosts {
				res, err := lister.DiscoverServices(ctx, host)
				resultsCh <- probeResult{host: host, res: res, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for pr := range resultsCh {
		if pr.err != nil {
			return fmt.Errorf("registry: discover services on host %q: %w", pr.host, pr.err)
		}
		r.hosts[pr.host] = &Host{Name: pr.host, Version: pr.res.Version}
		for _, svc := range pr.res.Services {
			if existing, ok := r.services[svc.ID]; ok && existing.Host != pr.host {
				return fmt.Errorf("%w: %q on hosts %q and %q", ErrDuplicateService, svc.ID, existing.Host, pr.host)
			}
			r.services[svc.ID] = Service{ID: svc.ID, Type: svc.Type, Host: pr.host}
			switch svc.Type {
			case TypeOST:
				r.ostCount++
			case TypeClient:
				r.clientCount++
			}
		}
	}
	return nil
}

// HostOf returns the host currently running the given service id.
func (r *Registry) HostOf(serviceID string) (*Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[serviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, serviceID)
	}
	return r.hosts[svc.Host], nil
}

// Hosts returns every discovered host, in no particular order.
func (r *Registry) Hosts() []*Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	return out
}

// OSTHosts returns the names of every host running at least one OST. TBF
// rules are only meaningful on OST-hosting servers, so actuator broadcasts
// (StartRule/StopRule) fan out to this set.
func (r *Registry) OSTHosts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, svc := range r.services {
		if svc.Type != TypeOST || seen[svc.Host] {
			continue
		}
		seen[svc.Host] = true
		out = append(out, svc.Host)
	}
	return out
}

// OSTCount returns the number of OST services discovered.
func (r *Registry) OSTCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ostCount
}

// ClientCount returns the number of mounted clients discovered.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clientCount
}
