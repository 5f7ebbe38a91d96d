package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/kingrea/shellexec/internal/report"
	"github.com/kingrea/shellexec/internal/workflow/engine"
)

// reportOptions defines flags for the `report` command.
type reportOptions struct {
	generalOpts *generalOptions

	output string
}

func (o *reportOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "report CSV path, - for stdout (default se_result.csv)")
}

// run the `report` command.
func (o *reportOptions) run(cmd *cobra.Command) (err error) {
	ovr := o.generalOpts.overrides(cmd)
	toStdout := o.output == "-"
	if cmd.Flags().Changed("output") && !toStdout {
		ovr.OutputCSV = &o.output
	}
	cfg, err := o.generalOpts.loadConfig(ovr)
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

	eng, err := engine.New(sess.store)
	if err != nil {
		return err
	}
	rows, err := eng.Report()
	if err != nil {
		return err
	}
	if toStdout {
		return report.WriteCSV(cmd.OutOrStdout(), rows)
	}
	if err := writeCSVFile(cfg.Settings.OutputCSV, rows); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) written to %s\n", len(rows), cfg.Settings.OutputCSV)
	if state, viewErr := eng.View(); viewErr == nil {
		printRunLine(cmd.OutOrStdout(), state)
	}
	return nil
}

// newCmdReport creates the `report` command.
func newCmdReport(generalOpts *generalOptions) *cobra.Command {
	o := &reportOptions{generalOpts: generalOpts}

	command := &cobra.Command{
		Use:   "report",
		Short: "Write the report CSV from the workspace without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}
