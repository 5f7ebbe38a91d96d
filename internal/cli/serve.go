package cli

import (
	"context"
	"fmt"

	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kingrea/shellexec/internal/statusserver"
	"github.com/kingrea/shellexec/internal/workflow/engine"
)

const defaultServeAddr = "127.0.0.1:7070"

// startStatusServer serves eng on addr until the returned stop func is called.
func startStatusServer(ctx context.Context, addr string, eng *engine.Engine, registry *prometheus.Registry) (func() error, error) {
	opts := []statusserver.Option{}
	if registry != nil {
		opts = append(opts, statusserver.WithRegistry(registry))
	}
	srv := statusserver.New(statusserver.DefaultSettings(addr), eng, opts...)
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return func() error {
		return srv.Shutdown(context.Background())
	}, nil
}

// serveOptions defines flags for the `serve` command.
type serveOptions struct {
	generalOpts *generalOptions

	httpAddr string
}

func (o *serveOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.httpAddr, "http-addr", "", "listen address (default "+defaultServeAddr+")")
}

func (o *serveOptions) run(ctx context.Context, cmd *cobra.Command) (err error) {
	ovr := o.generalOpts.overrides(cmd)
	if cmd.Flags().Changed("http-addr") {
		ovr.HTTPAddr = &o.httpAddr
	}
	cfg, err := o.generalOpts.loadConfig(ovr)
	if err != nil {
		return err
	}
	addr := cfg.Settings.HTTPAddr
	if addr == "" {
		addr = defaultServeAddr
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
	stop, err := startStatusServer(ctx, addr, eng, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving %s on %s\n", sess.store.Root(), addr)
	<-ctx.Done()
	log.Info("stopping status server", zap.String("addr", addr))
	return stop()
}

// newCmdServe creates the `serve` command.
func newCmdServe(generalOpts *generalOptions) *cobra.Command {
	o := &serveOptions{generalOpts: generalOpts}
	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run state and job report of a workspace over HTTP",
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
