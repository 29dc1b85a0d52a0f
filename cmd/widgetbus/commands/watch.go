package commands

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/widgetbus/internal/runtime/jsoncodec"
	"github.com/drblury/widgetbus/internal/runtime/scan"
)

// attributeUpdate is one line of watch output in json mode.
type attributeUpdate struct {
	Time       time.Time `json:"time"`
	InstanceID string    `json:"instanceId"`
	AttrName   string    `json:"attrName"`
	Value      any       `json:"value"`
}

func newWatchCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "watch [layout]",
		Short: "Attach a layout and stream attribute updates",
		Long: `Connect the configured transport, attach every binding of the layout and
print each value delivered to a subscriber or constant attribute until
interrupted. Introspection and metrics endpoints are served while watching
when enabled in the config.

Output Formats:
  default - Human-readable output with timestamps
  json    - Line-delimited JSON for programmatic processing`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "default" && output != "json" {
				return fmt.Errorf("unknown output format %q (valid: default, json)", output)
			}
			conf, err := opts.loadConfig()
			if err != nil {
				return err
			}
			tree, err := layoutTree(conf, args)
			if err != nil {
				return err
			}
			rt, err := opts.newRuntime(cmd, conf)
			if err != nil {
				return err
			}
			defer rt.Close()

			set := rt.Mount(cmd.Context(), tree).Bindings()
			out := &lockedWriter{w: cmd.OutOrStdout(), format: output}
			for _, b := range set.Subscribers {
				rt.ReadAttribute(b.InstanceID, b.AttrName, out.updater(b.InstanceID, b.AttrName))
			}
			for _, b := range set.Constants {
				rt.ReadAttribute(b.InstanceID, b.AttrName, out.updater(b.InstanceID, b.AttrName))
			}
			if output == "default" {
				printSuccess(cmd.ErrOrStderr(), "Watching %d subscribers and %d constants on %s", len(set.Subscribers), len(set.Constants), conf.Transport)
			}
			return rt.Start(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "default", "Output format (default or json)")
	return cmd
}

// lockedWriter serialises updates arriving on transport goroutines.
type lockedWriter struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func (l *lockedWriter) updater(instanceID, attrName string) func(any) {
	return func(v any) { l.update(instanceID, attrName, v) }
}

func (l *lockedWriter) update(instanceID, attrName string, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if l.format == "json" {
		_ = jsoncodec.Encode(l.w, attributeUpdate{Time: now, InstanceID: instanceID, AttrName: attrName, Value: v})
		return
	}
	fmt.Fprintf(l.w, "%s %s %s\n", faint.Sprint(now.Format("15:04:05.000")), cyan.Sprint(scan.AttrKey(instanceID, attrName)), compactJSON(v))
}
