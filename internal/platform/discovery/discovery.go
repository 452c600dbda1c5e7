// Package discovery provides the service-registry abstraction every binary
// in this repository uses to register itself and report health. No binary
// calls Discover.
package discovery

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// Registry is implemented by the Consul-backed registry (production) and
// the in-memory registry (tests, single-process dev).
type Registry interface {
	Register(ctx context.Context, instanceID, serviceName, hostPort string) error
	Deregister(ctx context.Context, instanceID, serviceName string) error
	Discover(ctx context.Context, serviceName string) ([]string, error)
	HealthCheck(ctx context.Context, instanceID, serviceName string) error
}

// GenerateInstanceID builds a unique registry ID for this process instance.
func GenerateInstanceID(serviceName string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		return fmt.Sprintf("%s-0", serviceName)
	}
	return fmt.Sprintf("%s-%d", serviceName, n.Int64())
}
