// Package inmem implements discovery.Registry without Consul, for tests and
// single-process development, adapted from the teacher's discovery/inmem.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arvind-mehta/orderflow-core/internal/platform/discovery"
)

type instance struct {
	hostPort   string
	lastActive time.Time
}

// Registry is a process-local, TTL-aware service registry.
type Registry struct {
	mu    sync.RWMutex
	addrs map[string]map[string]*instance
}

func NewRegistry() *Registry {
	return &Registry{addrs: map[string]map[string]*instance{}}
}

func (r *Registry) Register(_ context.Context, instanceID, serviceName, hostPort string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.addrs[serviceName] == nil {
		r.addrs[serviceName] = map[string]*instance{}
	}
	r.addrs[serviceName][instanceID] = &instance{hostPort: hostPort, lastActive: time.Now()}
	return nil
}

func (r *Registry) Deregister(_ context.Context, instanceID, serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.addrs[serviceName], instanceID)
	return nil
}

func (r *Registry) HealthCheck(_ context.Context, instanceID, serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.addrs[serviceName]
	if !ok {
		return errors.New("service is not registered yet")
	}
	inst, ok := svc[instanceID]
	if !ok {
		return errors.New("instance is not registered yet")
	}
	inst.lastActive = time.Now()
	return nil
}

func (r *Registry) Discover(_ context.Context, serviceName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.addrs[serviceName]) == 0 {
		return nil, errors.New("no service address found")
	}

	addrs := make([]string, 0, len(r.addrs[serviceName]))
	for _, inst := range r.addrs[serviceName] {
		addrs = append(addrs, inst.hostPort)
	}
	return addrs, nil
}

var _ discovery.Registry = (*Registry)(nil)
