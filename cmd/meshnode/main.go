// Command meshnode runs one node of the mesh: the capability-secured
// kernel plus its eth provider pool, identity indexer, and log cacher,
// reachable over TCP and WebSocket transports (§6 "External interfaces").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/cacher"
	"github.com/meshkernel/node/pkg/config"
	"github.com/meshkernel/node/pkg/ethprovider"
	"github.com/meshkernel/node/pkg/indexer"
	"github.com/meshkernel/node/pkg/kernel"
	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/log"
	"github.com/meshkernel/node/pkg/metrics"
	"github.com/meshkernel/node/pkg/netdriver"
	"github.com/meshkernel/node/pkg/register"
	"github.com/meshkernel/node/pkg/registry"
	"github.com/meshkernel/node/pkg/resolver"
	"github.com/meshkernel/node/pkg/storage"
	"github.com/meshkernel/node/pkg/sysproc"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meshnode",
	Short: "meshnode runs a single capability-secured mesh node",
	RunE:  runNode,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("home", "", "node home directory (default ~/.meshnode)")
	flags.String("config", "", "optional YAML config file overlaying flags")
	flags.Int("port", 0, "metrics/health HTTP port")
	flags.Int("ws-port", 0, "WebSocket listen port")
	flags.Int("tcp-port", 0, "TCP listen port")
	flags.StringArray("rpc", nil, "chain RPC endpoint (repeatable)")
	flags.Uint64("chain-id", 0, "registry chain id")
	flags.String("contract", "", "registry contract address (hex)")
	flags.Uint32("protocol-version", 1, "cacher wire protocol version")
	flags.String("username", "", "on-chain identity to register as")
	flags.String("password", "", "keyfile password (falls back to MESHNODE_PASSWORD)")
	flags.StringArray("peer", nil, "bootstrap cacher peer (repeatable)")
	flags.Bool("detached", false, "run without attached terminal logging")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "output logs as JSON")
}

func runNode(cmd *cobra.Command, _ []string) error {
	signalled := false
	defer func() {
		if signalled {
			os.Exit(2)
		}
	}()

	cfg, err := loadRuntimeConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("meshnode")

	if err := cfg.EnsureHome(); err != nil {
		return err
	}
	if len(cfg.RPCUrls) == 0 {
		return fmt.Errorf("at least one --rpc endpoint is required")
	}
	if cfg.ContractAddress == "" {
		return fmt.Errorf("--contract is required")
	}
	if cfg.Username == "" {
		return fmt.Errorf("--username is required")
	}

	db, err := storage.Open(cfg.StatePath("db"), "meshnode")
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := &netBridge{}

	// selfNode is provisional until the registration handshake resolves
	// the chosen username against the registry; the kernel, pool, and
	// indexer all key off it for addressing (§3).
	selfNode := cfg.Username

	krn := kernel.New(selfNode, bridge, noopSpawner{})

	pool := ethprovider.NewPool(cfg.ChainID, selfNode, krn)
	for i, url := range cfg.RPCUrls {
		name := fmt.Sprintf("rpc-%d", i)
		pool.AddURLProvider(ethprovider.NewUrlProvider(name, url, ethprovider.DialEthereum))
	}

	// Indexer and cacher issue their reads through the same pool the eth
	// process serves externally (§2), so they inherit its provider
	// ordering, health tracking, and failover instead of pinning to
	// cfg.RPCUrls[0] directly.
	chainClient := ethprovider.NewPoolChainClient(pool, selfNode)

	contractAddr := common.HexToAddress(cfg.ContractAddress)
	registryClient := registry.New(contractAddr, selfNode, pool)

	idx, err := indexer.New(cfg.ChainID, contractAddr, chainClient, bridge, db)
	if err != nil {
		return fmt.Errorf("construct indexer: %w", err)
	}

	res := resolver.New(idx.State(), registryClient)

	registrar := register.New(res)
	identity, err := registrar.Login(ctx, register.Config{
		Home:     cfg.Home,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("registration handshake: %w", err)
	}
	logger.Info().Str("username", identity.Material.Username).Str("mode", string(identity.Mode)).Msg("registered")

	var driver *netdriver.Driver
	onInbound := func(km kmsg.KernelMessage) {
		driver.HandleInbound(km)
	}
	tcpDialer := netdriver.NewTCPDialer(onInbound)
	driver = netdriver.New(selfNode, identity.Material.NetPrivate, tcpDialer, res, krn)
	bridge.driver = driver
	driver.Start()
	defer driver.Stop()

	tcpAddr := fmt.Sprintf(":%d", cfg.TCPPort)
	tcpListener, err := netdriver.ListenTCP(tcpAddr, onInbound)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", tcpAddr, err)
	}
	defer tcpListener.Close()

	wsServer := netdriver.NewWSServer(onInbound)
	wsMux := http.NewServeMux()
	wsMux.Handle("/mesh", wsServer)
	wsAddr := fmt.Sprintf(":%d", cfg.WsPort)
	wsHTTP := &http.Server{Addr: wsAddr, Handler: wsMux}
	go func() {
		if err := wsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("ws listener stopped")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsHTTP := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: metricsMux}
	go func() {
		if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics listener stopped")
		}
	}()

	driveDir := cfg.StatePath("drive")
	cacherInst, err := cacher.New(selfNode, cfg.ChainID, cfg.ProtocolVersion, cfg.ContractAddress, driveDir,
		chainClient, krn, driver, driver, identity.Material.NetPrivate, cfg.Peers, db)
	if err != nil {
		return fmt.Errorf("construct cacher: %w", err)
	}

	ethProc, ethMailbox, err := sysproc.NewEthProcess(selfNode, pool, ethprovider.DialEthereum, krn)
	if err != nil {
		return fmt.Errorf("register eth process: %w", err)
	}
	go ethProc.Run(ethMailbox)

	idxProc, idxMailbox, err := sysproc.NewIndexerProcess(selfNode, idx, res, krn)
	if err != nil {
		return fmt.Errorf("register indexer process: %w", err)
	}
	go idxProc.Run(idxMailbox)

	cacherProc, cacherMailbox, err := sysproc.NewCacherProcess(selfNode, cacherInst, krn)
	if err != nil {
		return fmt.Errorf("register cacher process: %w", err)
	}
	go cacherProc.Run(cacherMailbox)

	// Each kernel-resident process is the Issuer of its own root capability,
	// so GrantCapabilities' issuer check passes when the process grants that
	// capability to the node's kernel address; this makes the kernel address
	// the locally-trusted principal for privileged config/reset requests
	// (§6 "all require root capability").
	kernelSelf := address.Address{Node: selfNode, Process: address.ProcessId{Name: "kernel", Package: "sys", Publisher: "sys"}}
	for _, proc := range []address.Address{ethProc.Self(), idxProc.Self(), cacherProc.Self()} {
		rootCap := address.RootCapability(proc)
		if err := krn.GrantCapabilities(proc, kernelSelf, []address.Capability{rootCap}); err != nil {
			logger.Warn().Err(err).Str("process", proc.String()).Msg("failed to bootstrap root capability")
		}
	}

	if err := idx.Start(ctx); err != nil {
		return fmt.Errorf("start indexer: %w", err)
	}
	defer idx.Stop()

	if err := cacherInst.Start(ctx); err != nil {
		return fmt.Errorf("start cacher: %w", err)
	}
	defer cacherInst.Stop()

	logger.Info().
		Str("node", selfNode).
		Int("tcp_port", cfg.TCPPort).
		Int("ws_port", cfg.WsPort).
		Int("metrics_port", cfg.Port).
		Msg("meshnode running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	signalled = true
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = wsHTTP.Shutdown(shutdownCtx)
	_ = metricsHTTP.Shutdown(shutdownCtx)

	return nil
}
