package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schlafly/bayestar/pkg/container"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
	"github.com/schlafly/bayestar/pkg/tui"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE...",
	Short: "List the pixels and attributes stored in containers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		if err := inspectFile(cmd, path); err != nil {
			return err
		}
	}
	return nil
}

func inspectFile(cmd *cobra.Command, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return sperrors.Wrap(err, sperrors.CodeReadFailed, "stat container").WithContext("path", path)
	}
	r, err := container.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	m := r.Manifest()
	tui.PrintContainer(cmd.OutOrStdout(), path, info.Size(), m)
	if verbose {
		pixels, err := r.Pixels()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d pixels\n", len(pixels))
	}
	return nil
}
