package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/drblury/widgetbus/internal/runtime/jsoncodec"
	"github.com/drblury/widgetbus/internal/runtime/scan"
)

func newBindingsCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "bindings [layout]",
		Short: "List every binding declared in a layout",
		Long: `Scan the layout and print each binding grouped by kind. Entries with an
unknown type tag are listed as warnings.

Output Formats:
  default - Human-readable, colored
  json    - One JSON document with every binding`,
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
			set := scan.All(tree)
			if output == "json" {
				return jsoncodec.Encode(cmd.OutOrStdout(), set)
			}
			printBindings(cmd.OutOrStdout(), set)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "default", "Output format (default or json)")
	return cmd
}

func printBindings(w io.Writer, set scan.Set) {
	fmt.Fprintf(w, "%d widgets, %d bindings\n", len(set.Widgets), set.Len())

	section := func(title string, n int) bool {
		if n == 0 {
			return false
		}
		cyan.Fprintf(w, "\n%s (%d)\n", title, n)
		return true
	}

	if section("Subscribers", len(set.Subscribers)) {
		for _, b := range set.Subscribers {
			fmt.Fprintf(w, "  %s  <- %s %s field %s\n", b.Key(), b.Topic.Name, faint.Sprint(b.Topic.Type), b.TopicField)
		}
	}
	if section("Publishers", len(set.Publishers)) {
		for _, b := range set.Publishers {
			fmt.Fprintf(w, "  %s  -> %s %s", b.Key(), b.Topic.Name, faint.Sprint(b.Topic.Type))
			if b.TopicField != "" {
				fmt.Fprintf(w, " field %s", b.TopicField)
			}
			fmt.Fprintln(w)
		}
	}
	if section("Services", len(set.Services)) {
		for _, b := range set.Services {
			fmt.Fprintf(w, "  %s  => %s %s\n", b.Key(), b.Service.Name, faint.Sprint(b.Service.Type))
		}
	}
	if section("Constants", len(set.Constants)) {
		for _, b := range set.Constants {
			fmt.Fprintf(w, "  %s  = %s\n", b.Key(), compactJSON(b.Value))
		}
	}
	for _, e := range set.Unrecognized {
		printWarning(w, "%s has unknown type %v", e.Key(), e.Entry["type"])
	}
}
