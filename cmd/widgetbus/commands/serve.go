package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/widgetbus/transport"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve <name> <type> [json-response]",
		Short: "Answer a service with a fixed response",
		Long: `Register a mock service on transports that can answer calls and reply to
every request with the given JSON (an empty object by default). Each
request is printed. Runs until interrupted.

Example:
  widgetbus serve /reset std_srvs/srv/Trigger '{"success":true,"message":"ok"}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := parseJSONArg(args, 2)
			if resp == nil {
				resp = map[string]any{}
			}
			conf, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := opts.newRuntime(cmd, conf)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc := transport.Service{Name: args[0], Type: args[1]}
			out := &lockedWriter{w: cmd.OutOrStdout(), format: "default"}
			sub, err := rt.Serve(cmd.Context(), svc, func(_ context.Context, req any) (any, error) {
				out.update(svc.Name, "request", req)
				return resp, nil
			})
			if err != nil {
				return fmt.Errorf("serve %s: %w", svc.Name, err)
			}
			defer sub.Unsubscribe()

			printSuccess(cmd.ErrOrStderr(), "Serving %s (%s) on %s", svc.Name, svc.Type, conf.Transport)
			return rt.Start(cmd.Context())
		},
	}
}
