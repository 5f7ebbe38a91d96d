package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kingrea/shellexec/internal/config"
	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/metrics"
	"github.com/kingrea/shellexec/internal/tui"
	"github.com/kingrea/shellexec/internal/workflow"
	"github.com/kingrea/shellexec/internal/workflow/engine"
)

// runOptions defines flags for the `run` command.
type runOptions struct {
	generalOpts *generalOptions

	jobFile       string
	maxConcurrent int
	outputCSV     string
	rerun         []string
	metricsFile   string
	httpAddr      string
	gui           bool
	listOnly      bool
}

func newRunOptions(generalOpts *generalOptions) *runOptions {
	return &runOptions{generalOpts: generalOpts}
}

// addFlags binds the `run` flags.
func (o *runOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.jobFile, "jobs", "y", "", "job file (YAML or JSON)")
	cmd.Flags().IntVarP(&o.maxConcurrent, "max-concurrent", "c", 0, "maximum number of jobs running at once (default 2)")
	cmd.Flags().StringVarP(&o.outputCSV, "output", "o", "", "report CSV path (default se_result.csv)")
	cmd.Flags().StringSliceVar(&o.rerun, "rerun", nil, "terminal statuses to execute again, e.g. ERROR,DONE")
	cmd.Flags().StringVar(&o.metricsFile, "metrics-file", "", "write prometheus metrics to this textfile after the run")
	cmd.Flags().StringVar(&o.httpAddr, "http-addr", "", "serve run state and metrics on this address while jobs run")
	cmd.Flags().BoolVar(&o.gui, "gui", false, "show the status viewer while jobs run")
	cmd.Flags().BoolVarP(&o.listOnly, "list", "l", false, "register jobs and write the report without executing")
	_ = cmd.MarkFlagRequired("jobs")
}

func (o *runOptions) overrides(cmd *cobra.Command) config.Overrides {
	ovr := o.generalOpts.overrides(cmd)
	flags := cmd.Flags()
	if flags.Changed("max-concurrent") {
		ovr.MaxConcurrent = &o.maxConcurrent
	}
	if flags.Changed("output") {
		ovr.OutputCSV = &o.outputCSV
	}
	if flags.Changed("rerun") {
		ovr.RerunStatus = &o.rerun
	}
	if flags.Changed("metrics-file") {
		ovr.MetricsFile = &o.metricsFile
	}
	if flags.Changed("http-addr") {
		ovr.HTTPAddr = &o.httpAddr
	}
	return ovr
}

// run the `run` command.
func (o *runOptions) run(ctx context.Context, cmd *cobra.Command) (err error) {
	cfg, err := o.generalOpts.loadConfig(o.overrides(cmd))
	if err != nil {
		return err
	}
	defs, err := workflow.LoadDefinitionFile(o.jobFile)
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

	var registry *prometheus.Registry
	if cfg.Settings.MetricsFile != "" || cfg.Settings.HTTPAddr != "" {
		registry = prometheus.NewRegistry()
		metrics.InitMetrics(registry)
	}
	eng, err := engine.New(sess.store, engine.WithMetrics(registry, cfg.Settings.MetricsFile))
	if err != nil {
		return err
	}
	if cfg.Settings.HTTPAddr != "" {
		var stop func() error
		stop, err = startStatusServer(ctx, cfg.Settings.HTTPAddr, eng, registry)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, stop())
		}()
	}
	req := engine.StartRequest{
		Definitions:   defs,
		InvocationDir: cfg.InvocationDir,
		MaxConcurrent: cfg.MaxConcurrent(),
		Rerun:         cfg.RerunStatuses(),
		ListOnly:      o.listOnly,
	}

	var state engine.State
	if o.gui {
		state, err = o.runWithViewer(ctx, cmd.OutOrStdout(), eng, sess, req)
	} else {
		state, err = eng.Start(ctx, req)
	}
	if state.RunID == "" {
		return err
	}
	if csvErr := writeCSVFile(cfg.Settings.OutputCSV, state.Rows); csvErr != nil {
		return multierr.Append(err, csvErr)
	}
	printSummary(cmd.OutOrStdout(), state, cfg.Settings.OutputCSV)
	if err != nil {
		return err
	}
	if deadlock := state.Outcome.Err(); deadlock != nil {
		return deadlock
	}
	if failed := state.Outcome.Failed; len(failed) > 0 {
		return cerror.ErrJobsFailed.GenWithStackByArgs(len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// runWithViewer starts the engine in the background and keeps the viewer
// open until the user quits. The run is not interrupted by quitting the
// viewer, only by a signal.
func (o *runOptions) runWithViewer(ctx context.Context, out io.Writer, eng *engine.Engine, sess *session, req engine.StartRequest) (engine.State, error) {
	type result struct {
		state engine.State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := eng.Start(ctx, req)
		done <- result{state: state, err: err}
	}()

	program := tea.NewProgram(tui.NewApp(sess.store), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		log.Warn("status viewer stopped", zap.Error(err))
	}
	select {
	case res := <-done:
		return res.state, res.err
	default:
	}
	fmt.Fprintln(out, "viewer closed, waiting for running jobs to finish...")
	res := <-done
	return res.state, res.err
}

// newCmdRun creates the `run` command.
func newCmdRun(generalOpts *generalOptions) *cobra.Command {
	o := newRunOptions(generalOpts)

	command := &cobra.Command{
		Use:   "run",
		Short: "Run the jobs of a job file, resuming from the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := initContext()
			defer cancel()
			return o.run(ctx, cmd)
		},
	}

	o.addFlags(command)

	return command
}
