// starpack partitions a stellar catalog into HEALPix pixels and packs the
// cleaned photometry of each pixel into size-bounded container files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schlafly/bayestar/pkg/config"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
	"github.com/schlafly/bayestar/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		tui.PrintError(os.Stderr, err)
		var se *sperrors.StarpackError
		if verbose && errors.As(err, &se) {
			fmt.Fprint(os.Stderr, se.FormatStack())
		}
		os.Exit(sperrors.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "starpack",
	Short: "Pack a stellar catalog into HEALPix pixel containers",
	Long: `starpack queries a photometric catalog, groups the selected stars by
HEALPix pixel, drops records without usable photometry and writes each pixel's
photometry and derived stellar parameters into numbered container files.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "starpack %s (%s)\n", version, commit)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, config files, .env and
STARPACK_* environment variables, and list the files that were read.`,
	RunE: runConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (replaces the default search path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log metrics and progress details")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the layered configuration for a command.
func loadConfig() (*config.Manager, error) {
	m := config.NewManager()
	if configFile != "" {
		m.SetConfigFile(configFile)
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	m, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	w := cmd.OutOrStdout()
	paths := m.GetPaths()
	if len(paths) == 0 {
		fmt.Fprintln(w, "# no config files found; showing defaults and environment")
	}
	for _, p := range paths {
		fmt.Fprintf(w, "# loaded %s\n", p)
	}
	fmt.Fprint(w, string(out))
	return nil
}
