package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// PeerConfig names one static peer in the replication mesh.
type PeerConfig struct {
	ID   string `toml:"id"`
	Addr string `toml:"addr"`
}

// NodeConfig is the full configuration for one replication node: core
// replication settings plus the ambient control/observability surface.
type NodeConfig struct {
	NodeID      string       `toml:"node_id"`
	BindAddr    string       `toml:"bind_addr"`
	KeyPath     string       `toml:"key_path"`
	TimeMult    float64      `toml:"time_mult"`
	Verbosity   int          `toml:"verbosity"`
	ControlAddr string       `toml:"control_addr"`
	CorsOrigins []string     `toml:"cors_origins"`
	Peers       []PeerConfig `toml:"peers"`
}

// LoadNodeConfig reads and validates a node configuration from a TOML file,
// applying defaults to bind_addr, control_addr, time_mult and cors_origins
// when they are left unset.
func LoadNodeConfig(path string) (NodeConfig, error) {
	var cfg NodeConfig
	if err := loadToml(path, &cfg); err != nil {
		return NodeConfig{}, err
	}
	applyDefaults(&cfg)
	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *NodeConfig) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = ":9999"
	}
	if cfg.ControlAddr == "" {
		cfg.ControlAddr = ":9980"
	}
	if cfg.TimeMult == 0 {
		cfg.TimeMult = 1.0
	}
	if len(cfg.CorsOrigins) == 0 {
		cfg.CorsOrigins = []string{"http://localhost:3000"}
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ValidateNodeConfig enforces the fields a node cannot safely start without.
func ValidateNodeConfig(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return fmt.Errorf("node config missing node_id")
	}
	if strings.TrimSpace(cfg.BindAddr) == "" {
		return fmt.Errorf("node config missing bind_addr")
	}
	if strings.TrimSpace(cfg.KeyPath) == "" {
		return fmt.Errorf("node config missing key_path")
	}
	if cfg.TimeMult <= 0 {
		return fmt.Errorf("node config time_mult must be positive, got %v", cfg.TimeMult)
	}
	if cfg.Verbosity < 0 || cfg.Verbosity > 3 {
		return fmt.Errorf("node config verbosity must be 0-3, got %d", cfg.Verbosity)
	}
	for i, peer := range cfg.Peers {
		if err := validatePeer(peer); err != nil {
			return fmt.Errorf("peer[%d] invalid: %w", i, err)
		}
	}
	return nil
}

// LoadKey reads the shared 16-byte symmetric key from path.
func LoadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("key load failed (%s): %w", path, err)
	}
	if len(data) != 16 {
		return nil, fmt.Errorf("key file (%s) must be exactly 16 bytes, got %d", path, len(data))
	}
	return data, nil
}

func validatePeer(p PeerConfig) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(p.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	return nil
}
