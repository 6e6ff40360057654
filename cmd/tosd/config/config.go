// Package config defines tosd's on-disk/CLI configuration, following
// the teacher's kasparovd/config.Parse shape: a struct tagged for
// jessevdk/go-flags, with an ini file read first (if present) so its
// values become defaults that command-line flags can still override.
package config

import (
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename  = "tosd.conf"
	defaultP2PListen       = ":30303"
	defaultA2AHTTPListen   = ":8090"
	defaultA2AGRPCListen   = ":9090"
	defaultA2APublicURL    = "http://localhost:8090"
	defaultLogLevel        = "info"
	defaultChainID         = 1
	defaultMinArbiterStake = 1000
)

// Config is tosd's full runtime configuration.
type Config struct {
	ConfigFile string `long:"config" description:"Path to a tosd.conf ini file" no-ini:"true"`
	DataDir    string `long:"datadir" ini-name:"datadir" description:"Directory holding the node's leveldb state"`

	P2PListen      string   `long:"p2plisten" ini-name:"p2plisten" description:"UDP address the discovery server binds to"`
	BootstrapNodes []string `long:"bootstrap" ini-name:"bootstrap" description:"Discovery bootstrap node URL (<hex node id>@host:port), repeatable"`
	IsBootnode     bool     `long:"bootnode" ini-name:"bootnode" description:"Run as a discovery-only bootnode"`

	A2AHTTPListen string `long:"a2a-http-listen" ini-name:"a2a_http_listen" description:"Address the A2A HTTP+JSON server binds to"`
	A2AGRPCListen string `long:"a2a-grpc-listen" ini-name:"a2a_grpc_listen" description:"Address the A2A gRPC server binds to"`
	A2APublicURL  string `long:"a2a-public-url" ini-name:"a2a_public_url" description:"Externally reachable base URL advertised in the agent card"`

	ChainID         uint64 `long:"chainid" ini-name:"chainid" description:"Chain ID stamped into chain state"`
	MinArbiterStake uint64 `long:"min-arbiter-stake" ini-name:"min_arbiter_stake" description:"Minimum stake required to register as an arbiter"`

	LogLevel   string `long:"loglevel" ini-name:"loglevel" description:"Log level for every subsystem (trace/debug/info/warn/error), or SUBSYS=level,..."`
	LogDir     string `long:"logdir" ini-name:"logdir" description:"Directory to write tosd.log to; empty logs to stdout only"`
}

func defaults() *Config {
	return &Config{
		DataDir:         defaultDataDir(),
		P2PListen:       defaultP2PListen,
		A2AHTTPListen:   defaultA2AHTTPListen,
		A2AGRPCListen:   defaultA2AGRPCListen,
		A2APublicURL:    defaultA2APublicURL,
		ChainID:         defaultChainID,
		MinArbiterStake: defaultMinArbiterStake,
		LogLevel:        defaultLogLevel,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tosd")
	}
	return filepath.Join(home, ".tosd")
}

// Load parses args (typically os.Args[1:] worth of flags already
// isolated by the cobra command calling this) into a Config: defaults,
// then the ini file at ConfigFile (or <DataDir>/tosd.conf if unset and
// present), then args themselves taking final precedence, matching
// go-flags' own documented ini-then-command-line override order.
func Load(args []string) (*Config, error) {
	// A first, silent pass discovers --config/--datadir (so the ini
	// file, whose path may depend on them, can be located) before
	// doing the real parse that defaults() feeds into.
	pre := defaults()
	preParser := flags.NewParser(pre, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	configFile := pre.ConfigFile
	if configFile == "" {
		candidate := filepath.Join(pre.DataDir, defaultConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
		}
	}

	cfg := defaults()
	parser := flags.NewParser(cfg, flags.Default)
	if configFile != "" {
		if err := flags.NewIniParser(parser).ParseFile(configFile); err != nil {
			return nil, err
		}
	}
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
