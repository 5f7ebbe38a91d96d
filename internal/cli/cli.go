package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/shellexec/internal/config"
	"github.com/kingrea/shellexec/internal/logging"
	"github.com/kingrea/shellexec/internal/workspace"
)

// generalOptions are the flags every subcommand understands.
type generalOptions struct {
	configPath    string
	workspace     string
	statusBackend string
	logLevel      string
}

// addFlags binds the persistent flags to the root command.
func (o *generalOptions) addFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.configPath, "config", "", "path of shellexec.yaml (default ./shellexec.yaml when present)")
	cmd.PersistentFlags().StringVarP(&o.workspace, "workspace", "w", "", "workspace directory (default ./se_ws)")
	cmd.PersistentFlags().StringVar(&o.statusBackend, "status-backend", "", "status store: marker or leveldb")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// overrides collects the general flags the user actually set.
func (o *generalOptions) overrides(cmd *cobra.Command) config.Overrides {
	var ovr config.Overrides
	flags := cmd.Flags()
	if flags.Changed("workspace") {
		ovr.Workspace = &o.workspace
	}
	if flags.Changed("status-backend") {
		ovr.StatusBackend = &o.statusBackend
	}
	if flags.Changed("log-level") {
		ovr.LogLevel = &o.logLevel
	}
	return ovr
}

// loadConfig reads the config file and layers ovr on top of it.
func (o *generalOptions) loadConfig(ovr config.Overrides) (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Trace(err)
	}
	cfg, err := config.Load(cwd, o.configPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := cfg.Apply(ovr); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is what a subcommand works with once flags are resolved.
type session struct {
	cfg   *config.Config
	store *workspace.Store
	sync  func()
}

func openSession(cfg *config.Config) (*session, error) {
	sync, err := logging.Init(cfg.LogConfig())
	if err != nil {
		return nil, err
	}
	store, err := workspace.Open(cfg.WorkspaceDir(), cfg.Settings.StatusBackend)
	if err != nil {
		sync()
		return nil, err
	}
	log.Info("workspace opened",
		zap.String("workspace", store.Root()),
		zap.String("status_backend", cfg.Settings.StatusBackend),
		zap.String("config", cfg.Path))
	return &session{cfg: cfg, store: store, sync: sync}, nil
}

func (s *session) Close() error {
	err := s.store.Close()
	s.sync()
	return err
}

// initContext returns a context cancelled on the first termination signal.
func initContext() (context.Context, context.CancelFunc) {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer signal.Stop(sc)
		select {
		case sig := <-sc:
			log.Info("got signal to exit", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// NewCmdRoot creates the `shellexec` command.
func NewCmdRoot() *cobra.Command {
	o := &generalOptions{}

	cmds := &cobra.Command{
		Use:           "shellexec",
		Short:         "Run shell command jobs with dependencies under a concurrency limit",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	o.addFlags(cmds)

	cmds.AddCommand(newCmdRun(o))
	cmds.AddCommand(newCmdStatus(o))
	cmds.AddCommand(newCmdReport(o))
	cmds.AddCommand(newCmdServe(o))
	cmds.AddCommand(newCmdInit(o))

	return cmds
}
