package rbac

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config is the declarative engine configuration: roles, resource policies
// and engine tuning. It is the boundary where loosely-typed payloads become
// strict records; Validate rejects malformed entries before they reach the
// evaluator.
type Config struct {
	Roles       []*Role          `json:"roles" yaml:"roles"`
	Resources   []ResourcePolicy `json:"resources" yaml:"resources"`
	Assignments []Assignment     `json:"assignments,omitempty" yaml:"assignments,omitempty"`
	Engine      EngineConfig     `json:"engine" yaml:"engine"`
}

// Assignment seeds a principal-to-role binding in store implementations that
// load from configuration.
type Assignment struct {
	PrincipalID string   `json:"principal_id" yaml:"principal_id"`
	Roles       []string `json:"roles" yaml:"roles"`
}

type EngineConfig struct {
	CacheTTL            int64  `json:"cache_ttl_ms" yaml:"cache_ttl_ms"`
	AuditBuffer         int    `json:"audit_buffer" yaml:"audit_buffer"`
	SuperAdminRole      string `json:"super_admin_role,omitempty" yaml:"super_admin_role,omitempty"`
	RistrettoNumCounter int64  `json:"ristretto_num_counter,omitempty" yaml:"ristretto_num_counter,omitempty"`
	RistrettoMaxCost    int64  `json:"ristretto_max_cost,omitempty" yaml:"ristretto_max_cost,omitempty"`
	RistrettoBuffer     int64  `json:"ristretto_buffer,omitempty" yaml:"ristretto_buffer,omitempty"`
}

// ConfigLoader loads configuration from various formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDesignations()
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDesignations()
	return cfg, nil
}

// LoadFile dispatches on the file extension (.yaml/.yml/.json).
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return l.LoadYAML(data)
	case strings.HasSuffix(path, ".json"):
		return l.LoadJSON(data)
	}
	return nil, fmt.Errorf("unsupported config format: %s", path)
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

// ToJSON exports config to JSON.
func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

// applyDesignations flags the configured super-admin role.
func (c *Config) applyDesignations() {
	if c.Engine.SuperAdminRole == "" {
		return
	}
	for _, r := range c.Roles {
		if r != nil && r.ID == c.Engine.SuperAdminRole {
			r.SuperAdmin = true
		}
	}
}

// Validate checks role records, permission shapes, parent references and
// parent-chain acyclicity. Resolution re-checks cycles defensively at
// evaluation time, but a cyclic config should never load.
func (c *Config) Validate() error {
	byID := make(map[string]*Role, len(c.Roles))
	for _, r := range c.Roles {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := byID[r.ID]; dup {
			return fmt.Errorf("%w: duplicate role id %s", ErrMalformedRecord, r.ID)
		}
		byID[r.ID] = r
	}
	for _, r := range c.Roles {
		if r.ParentID == "" {
			continue
		}
		if _, ok := byID[r.ParentID]; !ok {
			return fmt.Errorf("%w: role %s parent %s", ErrInvalidRole, r.ID, r.ParentID)
		}
		visited := map[string]bool{}
		for cur := r; cur != nil && cur.ParentID != ""; cur = byID[cur.ParentID] {
			if visited[cur.ID] {
				return fmt.Errorf("%w: role %s", ErrCyclicRoleHierarchy, r.ID)
			}
			visited[cur.ID] = true
		}
	}
	for _, rp := range c.Resources {
		if rp.Resource == "" {
			return fmt.Errorf("%w: resource policy without resource", ErrMalformedRecord)
		}
		if len(rp.Actions) == 0 {
			return fmt.Errorf("%w: resource policy %s declares no actions", ErrMalformedRecord, rp.Resource)
		}
	}
	for _, a := range c.Assignments {
		if a.PrincipalID == "" {
			return fmt.Errorf("%w: assignment without principal", ErrMalformedRecord)
		}
		for _, roleID := range a.Roles {
			if _, ok := byID[roleID]; !ok {
				return fmt.Errorf("%w: assignment of %s to %s", ErrInvalidRole, roleID, a.PrincipalID)
			}
		}
	}
	return nil
}

// TTL returns the configured cache TTL or zero when unset.
func (ec EngineConfig) TTL() time.Duration {
	return time.Duration(ec.CacheTTL) * time.Millisecond
}

// GateOptions translates engine config into gate options.
func (c *Config) GateOptions() []Option {
	opts := []Option{WithRegistry(NewStaticRegistry(c.Resources))}
	if c.Engine.CacheTTL > 0 {
		opts = append(opts, WithCacheTTL(c.Engine.TTL()))
	}
	if c.Engine.AuditBuffer > 0 {
		opts = append(opts, WithAuditBuffer(c.Engine.AuditBuffer))
	}
	return opts
}
