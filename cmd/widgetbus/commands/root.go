package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/widgetbus/internal/runtime"
	configpkg "github.com/drblury/widgetbus/internal/runtime/config"
	"github.com/drblury/widgetbus/internal/runtime/layout"
	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	transportpkg "github.com/drblury/widgetbus/internal/runtime/transport"
)

var (
	versionInfo = "dev"

	// transportFactory builds the bus client. Tests replace it with a fake.
	transportFactory = transportpkg.DefaultFactory()
)

type options struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree. Each call returns fresh commands so
// flags never leak between invocations.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "widgetbus",
		Short: "widgetbus - bind dashboard layouts to a pub/sub and RPC bus",
		Long: `widgetbus scans a dashboard layout for widget attribute bindings and wires
them onto a message bus: subscribers receive topic fields, publishers send
values, services are called on demand and constants are pushed once.

The transport is selected in the config file or with WIDGETBUS_TRANSPORT
(channel, rosbridge, nats, kafka, rabbitmq, http, redis, aws).`,
		Version: versionInfo,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (YAML, TOML or JSON)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newBindingsCmd(opts),
		newWatchCmd(opts),
		newCallCmd(opts),
		newPublishCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SilenceErrors = true
	root.SilenceUsage = true
	err := root.ExecuteContext(ctx)
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func (o *options) loadConfig() (*configpkg.Config, error) {
	conf, err := configpkg.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		conf.LogLevel = o.logLevel
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// layoutTree resolves the layout path from the first argument or the config
// and returns it in the generic shape the scanner walks.
func layoutTree(conf *configpkg.Config, args []string) (any, error) {
	path := conf.LayoutFile
	if len(args) > 0 && args[0] != "" {
		path = args[0]
	}
	if path == "" {
		return nil, fmt.Errorf("no layout given: pass a file or set layout_file")
	}
	return layout.LoadTreeFile(path)
}

func (o *options) newRuntime(cmd *cobra.Command, conf *configpkg.Config) (*runtimepkg.Runtime, error) {
	log, err := loggingpkg.New(cmd.ErrOrStderr(), conf.LogLevel)
	if err != nil {
		return nil, err
	}
	rt, err := runtimepkg.NewRuntime(cmd.Context(), conf, log, runtimepkg.Dependencies{
		TransportFactory: transportFactory,
		Hooks:            runtimepkg.LoggingHooks(log),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s transport: %w", conf.Transport, err)
	}
	return rt, nil
}
