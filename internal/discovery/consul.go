// Package discovery registers this instance with Consul so a load balancer
// or other instances can find it. Registration is advisory only: nothing
// in the chat domain depends on Consul being reachable, so a registration
// failure is logged, never surfaced as a startup error.
//
// Grounded on the teacher's ConsulServiceRegistry
// (05-microservices/01-service-discovery/main.go), trimmed to
// Register/Deregister since this system has no need for peer Discover —
// instances talk to each other only indirectly, through Redis.
package discovery

import (
	"fmt"

	"github.com/hashicorp/consul/api"
)

type Registry struct {
	client    *api.Client
	serviceID string
}

// New builds a Consul client for the agent at addr. It does not contact
// the agent, so an unreachable agent first shows up as an error from
// Register; what to do about that is the caller's decision.
func New(addr string) (*Registry, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Registry{client: client}, nil
}

// Register advertises this instance under serviceName at host:port, with
// a health check hitting /health every 30s and auto-deregistering after
// 2 minutes of failures.
func (r *Registry) Register(serviceName, host string, port int, tags []string) error {
	r.serviceID = fmt.Sprintf("%s-%s-%d", serviceName, host, port)
	return r.client.Agent().ServiceRegister(&api.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    serviceName,
		Tags:    tags,
		Port:    port,
		Address: host,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", host, port),
			Interval:                       "30s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "2m",
		},
	})
}

// Deregister removes this instance from Consul on graceful shutdown.
func (r *Registry) Deregister() error {
	if r.serviceID == "" {
		return nil
	}
	return r.client.Agent().ServiceDeregister(r.serviceID)
}
