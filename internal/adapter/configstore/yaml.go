// Package configstore loads versioned per-domain configuration from YAML
// files. It is the authoritative source of truth behind the tiered cache;
// this subsystem only ever reads from it.
package configstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// YAMLStore reads domain configuration from a directory of YAML files:
// <dir>/<domain>.yaml for the base profile and an optional
// <dir>/<domain>.<tenant>.yaml override merged on top of it.
type YAMLStore struct {
	dir    string
	logger *slog.Logger
}

// New creates a YAMLStore rooted at dir.
func New(dir string, logger *slog.Logger) *YAMLStore {
	return &YAMLStore{dir: dir, logger: logger}
}

// Load reads and merges the configuration for (domainName, tenant).
// The effective version is the max of base and override versions, so a bump
// in either file invalidates downstream caches.
func (s *YAMLStore) Load(ctx context.Context, domainName, tenant string) (*domain.DomainConfig, error) {
	cfg, err := s.readFile(s.basePath(domainName))
	if err != nil {
		return nil, err
	}

	if tenant != "" {
		override, oerr := s.readFile(s.overridePath(domainName, tenant))
		switch {
		case oerr == nil:
			mergeConfig(cfg, override)
		case isNotFound(oerr):
			// No tenant override: the base profile applies as-is.
		default:
			return nil, oerr
		}
	}

	cfg.Domain = domainName
	cfg.Tenant = tenant
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Version reads only the version tokens, for cheap staleness probes.
func (s *YAMLStore) Version(ctx context.Context, domainName, tenant string) (int64, error) {
	v, err := readVersion(s.basePath(domainName))
	if err != nil {
		return 0, err
	}
	if tenant != "" {
		ov, oerr := readVersion(s.overridePath(domainName, tenant))
		if oerr == nil && ov > v {
			v = ov
		} else if oerr != nil && !isNotFound(oerr) {
			return 0, oerr
		}
	}
	return v, nil
}

func (s *YAMLStore) basePath(domainName string) string {
	return filepath.Join(s.dir, domainName+".yaml")
}

func (s *YAMLStore) overridePath(domainName, tenant string) string {
	return filepath.Join(s.dir, domainName+"."+tenant+".yaml")
}

func (s *YAMLStore) readFile(path string) (*domain.DomainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewDomainError("ConfigStore.Load", domain.ErrDomainNotFound, path)
		}
		return nil, domain.NewDomainError("ConfigStore.Load", domain.ErrConfigUnavailable, err.Error())
	}

	var cfg domain.DomainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, domain.NewDomainError("ConfigStore.Load", domain.ErrMalformedConfig, err.Error())
	}
	return &cfg, nil
}

func readVersion(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, domain.NewDomainError("ConfigStore.Version", domain.ErrDomainNotFound, path)
		}
		return 0, domain.NewDomainError("ConfigStore.Version", domain.ErrConfigUnavailable, err.Error())
	}

	var probe struct {
		Version int64 `yaml:"version"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return 0, domain.NewDomainError("ConfigStore.Version", domain.ErrMalformedConfig, err.Error())
	}
	return probe.Version, nil
}

// mergeConfig overlays a tenant override onto the base profile. Crew sets
// replace wholesale by ID; params merge key-by-key; the version is the max
// of the two.
func mergeConfig(base, override *domain.DomainConfig) {
	if override.Version > base.Version {
		base.Version = override.Version
	}
	if override.DefaultCrewSet != "" {
		base.DefaultCrewSet = override.DefaultCrewSet
	}
	if len(override.CrewSets) > 0 {
		if base.CrewSets == nil {
			base.CrewSets = make(map[string]domain.CrewSetSpec, len(override.CrewSets))
		}
		for id, spec := range override.CrewSets {
			base.CrewSets[id] = spec
		}
	}
	if len(override.Params) > 0 {
		if base.Params == nil {
			base.Params = make(map[string]string, len(override.Params))
		}
		for k, v := range override.Params {
			base.Params[k] = v
		}
	}
}

func validate(cfg *domain.DomainConfig) error {
	if len(cfg.CrewSets) == 0 {
		return domain.NewDomainError("ConfigStore.Load", domain.ErrMalformedConfig,
			fmt.Sprintf("domain %q declares no crew sets", cfg.Domain))
	}
	if cfg.DefaultCrewSet != "" {
		if _, ok := cfg.CrewSets[cfg.DefaultCrewSet]; !ok {
			return domain.NewDomainError("ConfigStore.Load", domain.ErrMalformedConfig,
				fmt.Sprintf("default crew set %q not declared", cfg.DefaultCrewSet))
		}
	}
	for id, spec := range cfg.CrewSets {
		if len(spec.Handlers) == 0 {
			return domain.NewDomainError("ConfigStore.Load", domain.ErrMalformedConfig,
				fmt.Sprintf("crew set %q declares no handlers", id))
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return domain.ErrorCodeOf(err) == domain.CodeDomainNotFound
}
