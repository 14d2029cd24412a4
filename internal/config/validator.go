package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/repitbot/gateway/internal/util"
)

// Validate checks the configuration for startup errors. A validation
// failure here is fatal: a gateway with a malformed service table must
// not start.
func (c *Config) Validate() error {
	if len(c.Services) == 0 {
		return util.NewConfigError("services", "at least one service must be configured")
	}

	seenNames := make(map[string]bool, len(c.Services))
	seenPrefixes := make(map[string]bool, len(c.Services))

	for i, svc := range c.Services {
		field := fmt.Sprintf("services[%d]", i)

		if svc.Name == "" {
			return util.NewConfigError(field+".name", "service name is required")
		}
		if seenNames[svc.Name] {
			return util.NewConfigError(field+".name",
				fmt.Sprintf("duplicate service name %q", svc.Name))
		}
		seenNames[svc.Name] = true

		if svc.PathPrefix == "" || !strings.HasPrefix(svc.PathPrefix, "/") {
			return util.NewConfigError(field+".pathPrefix",
				fmt.Sprintf("path prefix must start with / (service %q)", svc.Name))
		}
		if seenPrefixes[svc.PathPrefix] {
			return util.NewConfigError(field+".pathPrefix",
				fmt.Sprintf("duplicate path prefix %q", svc.PathPrefix))
		}
		seenPrefixes[svc.PathPrefix] = true

		if len(svc.Instances) == 0 {
			return util.NewConfigError(field+".instances",
				fmt.Sprintf("service %q has no instances", svc.Name))
		}
		for j, addr := range svc.Instances {
			host, port, err := net.SplitHostPort(addr)
			if err != nil || host == "" || port == "" {
				return util.NewConfigError(
					fmt.Sprintf("%s.instances[%d]", field, j),
					fmt.Sprintf("instance address %q must be host:port", addr))
			}
		}

		if svc.AuthRequired && c.Auth.Secret == "" {
			return util.NewConfigError("auth.secret",
				fmt.Sprintf("service %q requires auth but no secret is configured", svc.Name))
		}
	}

	if c.RateLimit.Store != StoreMemory && c.RateLimit.Store != StoreRedis {
		return util.NewConfigError("rateLimit.store",
			fmt.Sprintf("unknown store %q", c.RateLimit.Store))
	}
	if c.RateLimit.Store == StoreRedis && c.RateLimit.Redis.Address == "" {
		return util.NewConfigError("rateLimit.redis.address",
			"redis store selected but no address configured")
	}

	switch c.Upstream.Strategy {
	case StrategyRoundRobin, StrategyRandom:
	default:
		return util.NewConfigError("upstream.strategy",
			fmt.Sprintf("unknown load balancing strategy %q", c.Upstream.Strategy))
	}

	return nil
}
