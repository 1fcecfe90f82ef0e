// Package config carries the node's runtime configuration as an explicit
// value threaded through every component constructor. It replaces the
// module-level mutable globals (home directory, well-known process ids)
// that the source implementation used.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Runtime is the single configuration value every component is constructed
// with. Nothing in this module reads the filesystem, environment, or flags
// directly outside of cmd/meshnode and Load.
type Runtime struct {
	Home            string   `yaml:"home"`
	Port            int      `yaml:"port"`
	WsPort          int      `yaml:"ws_port"`
	TCPPort         int      `yaml:"tcp_port"`
	RPCUrls         []string `yaml:"rpc_urls"`
	ChainID         uint64   `yaml:"chain_id"`
	ProtocolVersion uint32   `yaml:"protocol_version"`
	Detached        bool     `yaml:"detached"`

	// ContractAddress is the registry contract the indexer watches.
	ContractAddress string `yaml:"contract_address"`

	// Username is the node's chosen on-chain identity (§4.2 "Registration
	// flow"); Password unlocks (or seeds) its keyfile. Password is never
	// read from a config file on disk, only from a flag or environment
	// variable, so it is not given a yaml tag.
	Username string `yaml:"username"`
	Password string `yaml:"-"`
}

// Default returns a Runtime with conservative defaults; callers override
// fields from flags before passing it to component constructors.
func Default() Runtime {
	home, _ := os.UserHomeDir()
	return Runtime{
		Home:            filepath.Join(home, ".meshnode"),
		Port:            8080,
		WsPort:          9000,
		TCPPort:         9001,
		ProtocolVersion: 1,
	}
}

// StatePath returns the path of a named state file/directory under Home.
func (r Runtime) StatePath(elem ...string) string {
	parts := append([]string{r.Home}, elem...)
	return filepath.Join(parts...)
}

// Load overlays a YAML config file onto an existing Runtime. A missing file
// is not an error; Runtime keeps its current (default or flag-derived)
// values.
func Load(path string, base Runtime) (Runtime, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("failed to read config file: %w", err)
	}

	out := base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return base, fmt.Errorf("failed to parse config file: %w", err)
	}
	return out, nil
}

// EnsureHome creates the node's home directory if it does not exist.
func (r Runtime) EnsureHome() error {
	if err := os.MkdirAll(r.Home, 0o700); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	return nil
}
