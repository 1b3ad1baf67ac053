// internal/cli/root.go
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arc-language/ustore"
	"github.com/arc-language/ustore/pkg/core"
)

type options struct {
	cfgFile     string
	source      string
	manifestURL string
	packageURL  string
	packagesDir string
	ledgerPath  string
	debug       bool
	list        bool
	info        string
}

// app carries the state of one invocation
type app struct {
	opts   options
	stdout io.Writer
	stderr io.Writer
	config *core.Config
	logger *logrus.Logger
}

// Execute runs the command line against the process arguments and returns
// the exit code
func Execute() int {
	return Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes one invocation with the given arguments
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}

	rootCmd := a.newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	return a.exitCode(err)
}

func (a *app) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ustore <install|uninstall> <package>",
		Short: "Store package installer",
		Long: `ustore - Store package installer

Fetches the store manifest and installs a listed package into the
packages directory next to the installer.

The default package URL points at the DownGit web page, which serves HTML
rather than an archive. Set --package-url to an archive endpoint or use
--source git to read packages straight from the store repository.

Examples:
  ustore install PostgresStorage
  ustore uninstall PostgresStorage
  ustore --list
  ustore --info RequestMiddleware`,
		Version:           version,
		Args:              cobra.ArbitraryArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
		RunE:              a.runRoot,
	}
	rootCmd.SetVersionTemplate(versionTemplate)

	// Positional arguments are the whole contract; no help or completion subcommands
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
		Args:   cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRoot(cmd, append([]string{cmd.Name()}, args...))
		},
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.opts.cfgFile, "config", "", "config file (default is $HOME/.config/ustore/config.yaml)")
	flags.StringVar(&a.opts.source, "source", "", "package source (http, git)")
	flags.StringVar(&a.opts.manifestURL, "manifest-url", "", "manifest URL for the http source")
	flags.StringVar(&a.opts.packageURL, "package-url", "", "package archive URL template, {package} is replaced")
	flags.StringVar(&a.opts.packagesDir, "packages-dir", "", "directory packages are installed into")
	flags.StringVar(&a.opts.ledgerPath, "ledger", "", "install ledger database")
	flags.BoolVar(&a.opts.debug, "debug", false, "enable debug logging")

	rootCmd.Flags().BoolVar(&a.opts.list, "list", false, "list installed packages")
	rootCmd.Flags().StringVar(&a.opts.info, "info", "", "show information about a package")

	rootCmd.AddCommand(a.newInstallCmd())
	rootCmd.AddCommand(a.newUninstallCmd())

	return rootCmd
}

func (a *app) initConfig(cmd *cobra.Command, args []string) error {
	config, err := core.LoadConfig(a.opts.cfgFile)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error loading config: %v\n", err)
		config = core.DefaultConfig()
	}

	// Override config with flags
	if a.opts.source != "" {
		config.Source = a.opts.source
	}
	if a.opts.manifestURL != "" {
		config.ManifestURL = a.opts.manifestURL
	}
	if a.opts.packageURL != "" {
		config.PackageURL = a.opts.packageURL
	}
	if a.opts.packagesDir != "" {
		config.PackagesDir = a.opts.packagesDir
	}
	if a.opts.ledgerPath != "" {
		config.LedgerPath = a.opts.ledgerPath
	}
	if a.opts.debug {
		config.Debug = true
	}

	a.logger = logrus.New()
	a.logger.SetOutput(a.stderr)
	a.logger.SetLevel(logrus.WarnLevel)
	if config.Debug {
		a.logger.SetLevel(logrus.DebugLevel)
	}

	a.config = config
	return nil
}

// runRoot handles everything that is not a known subcommand
func (a *app) runRoot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		switch {
		case a.opts.list:
			return a.withManager(cmd.Context(), a.printList)
		case a.opts.info != "":
			return a.withManager(cmd.Context(), func(ctx context.Context, mgr *ustore.Manager) error {
				return a.printInfo(ctx, mgr, a.opts.info)
			})
		}
		return cmd.Help()
	}
	if len(args) != 2 {
		return errWrongParams
	}
	return errUnknownCommand
}

// withManager builds the manager for this run and bounds it by the configured timeout
func (a *app) withManager(ctx context.Context, fn func(context.Context, *ustore.Manager) error) error {
	mgr, err := ustore.NewManager(a.config, a.logger)
	if err != nil {
		return fmt.Errorf("initializing manager: %w", err)
	}
	defer mgr.Close()

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	return fn(ctx, mgr)
}

// exactlyOnePackage enforces the <command> <package> shape for subcommands
func exactlyOnePackage(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errWrongParams
	}
	return nil
}
