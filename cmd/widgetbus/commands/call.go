package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/widgetbus/internal/runtime"
	"github.com/drblury/widgetbus/internal/runtime/jsoncodec"
)

func newCallCmd(opts *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "call <layout> <instanceId> <attr> [json-request]",
		Short: "Invoke the service bound to a widget attribute",
		Long: `Attach the layout and call the service bound to instanceId/attr. The
request defaults to an empty object. The response is printed as JSON.

Examples:
  widgetbus call dashboard.yaml tabs.items.main reset
  widgetbus call dashboard.yaml params get '{"names":["max_speed"]}' --timeout 2s`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := parseJSONArg(args, 3)
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
			started := time.Now()
			resp, err := rt.InvokeService(cmd.Context(), args[1], args[2], req, runtimepkg.CallOptions{Timeout: timeout})
			if err != nil {
				return fmt.Errorf("call %s: %w", args[2], err)
			}
			printSuccess(cmd.ErrOrStderr(), "Service answered in %s", time.Since(started).Round(time.Millisecond))
			data, err := jsoncodec.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Call timeout (defaults to service_timeout)")
	return cmd
}
