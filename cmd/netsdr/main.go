package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rjboer/netsdr/internal/config"
	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/sink"
)

func main() {
	if err := newRootCmd(os.LookupEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cli is the state shared by all subcommands, filled in PersistentPreRunE.
type cli struct {
	lookup  config.LookupFunc
	cfgPath string
	cfg     config.Config
	logger  logging.Logger

	// Global overrides, applied only when set on the command line.
	logLevel    string
	logFormat   string
	address     string
	dataAddress string
	sampleBits  int
	sshHost     string
	sinkKind    string
	sinkPath    string
}

func newRootCmd(lookup config.LookupFunc) *cobra.Command {
	c := &cli{lookup: lookup}

	root := &cobra.Command{
		Use:   "netsdr",
		Short: "Control a NetSDR receiver and record its IQ stream",
		Long: `netsdr talks to a NetSDR receiver over its TCP control channel,
tunes it, and records the UDP IQ stream to a file, parquet or redis.

Settings come from netsdr.yaml (created with defaults when missing),
then NETSDR_* environment variables, then command line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.Flags(), cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", config.DefaultPath, "config file")
	pf.StringVar(&c.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	pf.StringVar(&c.logFormat, "log-format", "", "log format (text|json)")
	pf.StringVar(&c.address, "address", "", "receiver control address host:port")
	pf.StringVar(&c.dataAddress, "data-address", "", "local UDP address for the IQ stream")
	pf.IntVar(&c.sampleBits, "sample-bits", 0, "IQ sample width (8|16|32)")
	pf.StringVar(&c.sshHost, "ssh-host", "", "reach the receiver through this SSH jump host")
	pf.StringVar(&c.sinkKind, "sink", "", "sample sink (file|memory|parquet|redis)")
	pf.StringVar(&c.sinkPath, "sink-path", "", "sample file path")

	root.AddCommand(
		newStreamCmd(c),
		newFreqCmd(c),
		newDiscoverCmd(c),
		newConfigCmd(c),
	)
	return root
}

// load resolves the effective configuration: defaults, file, environment,
// then flags that were explicitly set.
func (c *cli) load(flags *pflag.FlagSet, logOut io.Writer) error {
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ApplyEnv(&cfg, c.lookup); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("log-level", func() { cfg.Log.Level = c.logLevel })
	set("log-format", func() { cfg.Log.Format = c.logFormat })
	set("address", func() { cfg.Device.Address = c.address })
	set("data-address", func() { cfg.Device.DataAddress = c.dataAddress })
	set("sample-bits", func() { cfg.Device.SampleBits = c.sampleBits })
	set("ssh-host", func() { cfg.SSH.Host = c.sshHost })
	set("sink", func() { cfg.Sink.Kind = sink.Kind(c.sinkKind) })
	set("sink-path", func() { cfg.Sink.Path = c.sinkPath })

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	format, _ := logging.ParseFormat(cfg.Log.Format)
	c.logger = logging.New(level, format, logOut)
	logging.SetDefault(c.logger)
	c.cfg = cfg
	return nil
}
