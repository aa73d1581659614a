// Package cli implements the collector command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/collector/internal/paths"
	"github.com/mesh-intelligence/collector/pkg/collection"
	"github.com/mesh-intelligence/collector/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	verbose   bool
	pretty    bool
}

// app carries the state shared by the commands of one invocation.
type app struct {
	flags     rootFlags
	configDir string
	dataDir   string
	config    *viper.Viper
	logger    *zap.Logger
}

// NewRootCmd creates the top-level "collector" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "collector",
		Short: "Catalog personal collections",
		Long: "Collector stores records of personal collections (books, games, films...)\n" +
			"described by a collection descriptor under the data directory.",
		Version:           collection.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return userError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/collector)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory holding collections/ (default: $XDG_DATA_HOME/collector)")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "debug logging to stderr")
	pf.BoolVar(&a.flags.pretty, "pretty", false, "indent JSON output")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newCollectionsCmd(a))
	root.AddCommand(newGetCmd(a))
	root.AddCommand(newListCmd(a))
	root.AddCommand(newLastCmd(a))
	root.AddCommand(newSearchCmd(a))
	root.AddCommand(newFilterCmd(a))
	root.AddCommand(newSaveCmd(a))
	root.AddCommand(newDeleteCmd(a))
	root.AddCommand(newAddCmd(a))
	root.AddCommand(newCompleteCmd(a))

	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// setup resolves directories, loads config.yaml and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return sysError(err)
	}
	logger, err := newLogger(cfg.GetString(cfgKeyLogLevel), a.flags.verbose)
	if err != nil {
		return userError(fmt.Errorf("log_level: %w", err))
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, cfg.GetString(cfgKeyDataDir))
	if err != nil {
		return sysError(fmt.Errorf("resolve data dir: %w", err))
	}

	a.configDir = configDir
	a.dataDir = dataDir
	a.config = cfg
	a.logger = logger
	logger.Debug("resolved directories",
		zap.String("config_dir", configDir), zap.String("data_dir", dataDir))
	return nil
}

// withManager discovers the collection, runs fn and closes the manager.
func (a *app) withManager(fn func(m *collection.Manager) error) (err error) {
	m := collection.NewManager(a.dataDir, collection.WithLogger(a.logger))
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = sysError(fmt.Errorf("close collection: %w", cerr))
		}
	}()
	if err := m.Discover(); err != nil {
		return sysError(err)
	}
	return fn(m)
}

// withCollection runs fn against one subcollection.
func (a *app) withCollection(id string, fn func(c *collection.Collection) error) error {
	return a.withManager(func(m *collection.Manager) error {
		c, err := m.Collection(id)
		if err != nil {
			return err
		}
		return fn(c)
	})
}

// argsRange wraps cobra.RangeArgs so that argument errors are user errors.
func argsRange(lo, hi int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(lo, hi)(cmd, args); err != nil {
			return userError(err)
		}
		return nil
	}
}

func exactArgs(n int) cobra.PositionalArgs { return argsRange(n, n) }

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return userError(err)
		}
		return nil
	}
}

// exitError pins the exit code of an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// userErrors are failures caused by the invocation rather than the system.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrCollectionNotFound,
	types.ErrInvalidID,
	types.ErrFieldNotFound,
	types.ErrUnsupportedFilter,
	types.ErrTypeValueMismatch,
	types.ErrNotMultivalued,
	types.ErrCast,
	types.ErrMalformedReferenceValue,
	types.ErrStillReferenced,
	types.ErrReadOnly,
}

// exitCode maps an error returned by a command to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}
