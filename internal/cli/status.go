package cli

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/kingrea/shellexec/internal/tui"
)

// newCmdStatus creates the `status` command.
func newCmdStatus(generalOpts *generalOptions) *cobra.Command {
	command := &cobra.Command{
		Use:   "status",
		Short: "Watch the jobs of a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, cancel := initContext()
			defer cancel()

			cfg, err := generalOpts.loadConfig(generalOpts.overrides(cmd))
			if err != nil {
				return err
			}
			sess, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, sess.Close())
			}()

			program := tea.NewProgram(tui.NewApp(sess.store), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := program.Run(); err != nil && ctx.Err() == nil {
				return errors.Annotate(err, "status viewer")
			}
			return nil
		},
	}
	return command
}
