// Command tosd is the TOS daemon: it serves discovery, chain
// consensus/state, and the agent-to-agent task bridge out of one
// process, the way the teacher's btcd ties its own subsystems together
// out of cmd/btcd's main (here split across cobra subcommands instead
// of btcd's single flat main, since tosd has more independently
// startable pieces worth a `start`/`version` split).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tos-network/tosd/a2a"
	"github.com/tos-network/tosd/chainstate"
	tosdconfig "github.com/tos-network/tosd/cmd/tosd/config"
	"github.com/tos-network/tosd/consensus"
	"github.com/tos-network/tosd/consensus/ghostdag"
	"github.com/tos-network/tosd/crypto"
	"github.com/tos-network/tosd/discovery"
	"github.com/tos-network/tosd/logger"
	"github.com/tos-network/tosd/storage/leveldb"
	"github.com/tos-network/tosd/util/panics"
)

var log, _ = logger.Get(logger.SubsystemTags.TOSD)

func main() {
	defer panics.HandlePanic(log, nil)

	// A .env file in the working directory, if present, is loaded into
	// the environment, where run reads the TOS_A2A_PUBLIC_URL and
	// TOS_A2A_GRPC_URL overrides; a missing file is not an error, same
	// as godotenv's own documented usage.
	_ = godotenv.Load()

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tosd",
		Short: "tosd runs the TOS chain-state, discovery, and agent-task-bridge daemon",
	}
	root.AddCommand(newStartCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print tosd's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("tosd development build")
			return nil
		},
	}
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the tosd daemon",
		// tosd's daemon flags (--datadir, --a2a-http-listen, ...) are
		// defined on config.Config's go-flags tags, not as cobra/pflag
		// flags, so cobra must not try to parse or reject them itself.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args)
		},
	}
}

func run(args []string) error {
	cfg, err := tosdconfig.Load(args)
	if err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}

	if err := logger.ParseAndSetDebugLevels(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid --loglevel: %w", err)
	}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		logFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "tosd.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer logFile.Close()
		logger.SetOutput(logFile)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	engine, err := leveldb.Open(filepath.Join(cfg.DataDir, "chaindata"))
	if err != nil {
		return fmt.Errorf("opening chain-state database: %w", err)
	}
	defer engine.Close()

	consensusStore := consensus.NewStore(engine)
	ghostdagStore := ghostdag.NewStore(engine)
	ghostdagMgr := ghostdag.New(ghostdag.DefaultK, consensusStore, ghostdagStore)
	chainStore := chainstate.NewStore(engine)
	chainState := chainstate.New(chainStore, crypto.Ed25519Verifier{}, cfg.ChainID, cfg.MinArbiterStake)
	processor := consensus.New(consensusStore, ghostdagMgr, chainState)

	identity, err := discovery.NewIdentity()
	if err != nil {
		return fmt.Errorf("generating discovery identity: %w", err)
	}
	discoveryServer, err := discovery.NewServer(discovery.Config{
		BindAddress:    cfg.P2PListen,
		BootstrapNodes: cfg.BootstrapNodes,
		IsBootnode:     cfg.IsBootnode,
	}, identity)
	if err != nil {
		return fmt.Errorf("starting discovery server: %w", err)
	}
	discoveryServer.Start()
	defer discoveryServer.Stop()

	// TOS_A2A_PUBLIC_URL and TOS_A2A_GRPC_URL, when set, override the
	// URLs the agent card advertises.
	a2aPublicURL := cfg.A2APublicURL
	if v := os.Getenv("TOS_A2A_PUBLIC_URL"); v != "" {
		a2aPublicURL = v
	}
	a2aGRPCURL := cfg.A2AGRPCListen
	if v := os.Getenv("TOS_A2A_GRPC_URL"); v != "" {
		a2aGRPCURL = v
	}
	a2aService := a2a.NewService(chainStore, processor, a2a.EchoExecutor{}, a2a.DefaultConfig(), a2aPublicURL, a2aGRPCURL)

	httpServer := &http.Server{Addr: cfg.A2AHTTPListen, Handler: a2a.NewHTTPHandler(a2aService)}
	go func() {
		log.Infof("A2A HTTP+JSON server listening on %s", cfg.A2AHTTPListen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("A2A HTTP server stopped: %s", err)
		}
	}()
	defer httpServer.Shutdown(context.Background())

	grpcListener, err := net.Listen("tcp", cfg.A2AGRPCListen)
	if err != nil {
		return fmt.Errorf("binding A2A gRPC listener: %w", err)
	}
	grpcServer := a2a.NewGRPCServer(a2aService)
	go func() {
		log.Infof("A2A gRPC server listening on %s", cfg.A2AGRPCListen)
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Errorf("A2A gRPC server stopped: %s", err)
		}
	}()
	defer grpcServer.GracefulStop()

	log.Infof("tosd started (node_id %s, datadir %s)", identity.NodeID(), cfg.DataDir)
	<-interruptListener()
	log.Infof("tosd shutting down")
	return nil
}

// interruptListener returns a channel that is closed on SIGINT/SIGTERM.
// No dedicated "signal" package survives into this daemon from the
// teacher's own pack (see DESIGN.md); os/signal is the idiomatic stdlib
// way to do this and no third-party example in the corpus replaces it.
func interruptListener() <-chan struct{} {
	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(done)
	}()
	return done
}
