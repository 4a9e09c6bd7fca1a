package domain

import "context"

// HandlerSpec declares one handler inside a crew set. Kind selects a
// registered handler implementation; Options are passed to its builder.
type HandlerSpec struct {
	Kind    string            `yaml:"kind" json:"kind"`
	Name    string            `yaml:"name" json:"name"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// CrewSetSpec declares the handler topology for one crew set.
type CrewSetSpec struct {
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Handlers    []HandlerSpec `yaml:"handlers" json:"handlers"`
}

// DomainConfig is the materialized configuration for a (domain, tenant)
// pair. It is immutable after load; a configuration change produces a new
// DomainConfig with a higher Version, never an in-place mutation.
type DomainConfig struct {
	Domain         string                 `yaml:"domain" json:"domain"`
	Tenant         string                 `yaml:"tenant,omitempty" json:"tenant,omitempty"`
	Version        int64                  `yaml:"version" json:"version"`
	DefaultCrewSet string                 `yaml:"default_crew_set" json:"default_crew_set"`
	CrewSets       map[string]CrewSetSpec `yaml:"crew_sets" json:"crew_sets"`
	Params         map[string]string      `yaml:"params,omitempty" json:"params,omitempty"`
}

// ConfigStore provides read-only access to per-domain declarative
// configuration. Version is a cheap staleness probe: it must return the same
// monotonically increasing token that Load would embed in the DomainConfig.
type ConfigStore interface {
	Load(ctx context.Context, domain, tenant string) (*DomainConfig, error)
	Version(ctx context.Context, domain, tenant string) (int64, error)
}
