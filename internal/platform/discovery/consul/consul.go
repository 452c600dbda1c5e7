// Package consul implements discovery.Registry on top of Hashicorp Consul,
// adapted from the teacher's discovery/consul package: TTL health checks
// registered by the instance, deregistered on shutdown.
package consul

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/arvind-mehta/orderflow-core/internal/platform/discovery"
)

type Registry struct {
	client *consulapi.Client
}

// NewRegistry dials Consul at addr.
func NewRegistry(addr string) (*Registry, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}

	return &Registry{client: client}, nil
}

func (r *Registry) Register(_ context.Context, instanceID, serviceName, hostPort string) error {
	parts := strings.Split(hostPort, ":")
	if len(parts) != 2 {
		return fmt.Errorf("invalid hostPort %q, want host:port", hostPort)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid port in %q: %w", hostPort, err)
	}

	return r.client.Agent().ServiceRegister(&consulapi.AgentServiceRegistration{
		ID:      instanceID,
		Name:    serviceName,
		Address: parts[0],
		Port:    port,
		Check: &consulapi.AgentServiceCheck{
			CheckID:                        instanceID,
			TTL:                            "5s",
			DeregisterCriticalServiceAfter: "10s",
		},
	})
}

func (r *Registry) Deregister(_ context.Context, instanceID, _ string) error {
	return r.client.Agent().ServiceDeregister(instanceID)
}

func (r *Registry) Discover(_ context.Context, serviceName string) ([]string, error) {
	entries, _, err := r.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", serviceName, err)
	}

	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		addrs = append(addrs, fmt.Sprintf("%s:%d", e.Service.Address, e.Service.Port))
	}
	return addrs, nil
}

func (r *Registry) HealthCheck(_ context.Context, instanceID, _ string) error {
	return r.client.Agent().UpdateTTL(instanceID, "online", consulapi.HealthPassing)
}

var _ discovery.Registry = (*Registry)(nil)
