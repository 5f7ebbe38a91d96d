package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	"github.com/kingrea/shellexec/internal/config"
)

// newCmdInit creates the `init` command.
func newCmdInit(generalOpts *generalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented shellexec.yaml with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := generalOpts.configPath
			if path == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return errors.Trace(err)
				}
				path = filepath.Join(cwd, config.FileName)
			}
			if err := config.WriteDefault(path); err != nil {
				return errors.Annotatef(err, "write %s", path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config at %s\n", path)
			return nil
		},
	}
}
