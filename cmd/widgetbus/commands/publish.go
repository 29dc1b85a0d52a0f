package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/widgetbus/internal/runtime/scan"
)

func newPublishCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <layout> <instanceId> <attr> <json-value>",
		Short: "Publish a value through the publisher bound to a widget attribute",
		Long: `Attach the layout and send the value through the publisher bound to
instanceId/attr. When the binding names a topicField the value is wrapped
at that path, otherwise it is published as is.

Example:
  widgetbus publish dashboard.yaml joystick velocity 0.5`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseJSONArg(args, 3)
			conf, err := opts.loadConfig()
			if err != nil {
				return err
			}
			tree, err := layoutTree(conf, args[:1])
			if err != nil {
				return err
			}
			rt, err := opts.newRuntime(cmd, conf)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.Mount(cmd.Context(), tree)
			key := scan.AttrKey(args[1], args[2])
			if _, ok := rt.PublisherBus().Get(key); !ok {
				return fmt.Errorf("no publisher bound for %s", key)
			}
			rt.Publish(cmd.Context(), args[1], args[2], value)
			printSuccess(cmd.ErrOrStderr(), "Published %s to %s", compactJSON(value), key)
			return nil
		},
	}
}
