package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/meshkernel/node/pkg/config"
)

// nodeConfig extends the shared config.Runtime with the handful of
// settings (logging, bootstrap peers) that are cmd/meshnode's own concern
// rather than something every component constructor needs.
type nodeConfig struct {
	config.Runtime
	LogLevel string
	LogJSON  bool
	Peers    []string
}

// loadRuntimeConfig builds a nodeConfig from defaults, an optional YAML
// file, and command-line flags, in that order of increasing precedence.
func loadRuntimeConfig(cmd *cobra.Command) (nodeConfig, error) {
	flags := cmd.Flags()
	base := config.Default()

	if path, _ := flags.GetString("config"); path != "" {
		overlaid, err := config.Load(path, base)
		if err != nil {
			return nodeConfig{}, err
		}
		base = overlaid
	}

	if v, _ := flags.GetString("home"); v != "" {
		base.Home = v
	}
	if v, _ := flags.GetInt("port"); v != 0 {
		base.Port = v
	}
	if v, _ := flags.GetInt("ws-port"); v != 0 {
		base.WsPort = v
	}
	if v, _ := flags.GetInt("tcp-port"); v != 0 {
		base.TCPPort = v
	}
	if v, _ := flags.GetStringArray("rpc"); len(v) > 0 {
		base.RPCUrls = v
	}
	if v, _ := flags.GetUint64("chain-id"); v != 0 {
		base.ChainID = v
	}
	if v, _ := flags.GetString("contract"); v != "" {
		base.ContractAddress = v
	}
	if v, _ := flags.GetUint32("protocol-version"); flags.Changed("protocol-version") && v != 0 {
		base.ProtocolVersion = v
	}
	if v, _ := flags.GetString("username"); v != "" {
		base.Username = v
	}
	if v, _ := flags.GetBool("detached"); v {
		base.Detached = v
	}

	password, _ := flags.GetString("password")
	if password == "" {
		password = os.Getenv("MESHNODE_PASSWORD")
	}
	base.Password = password

	peers, _ := flags.GetStringArray("peer")
	logLevel, _ := flags.GetString("log-level")
	logJSON, _ := flags.GetBool("log-json")

	return nodeConfig{Runtime: base, LogLevel: logLevel, LogJSON: logJSON, Peers: peers}, nil
}
