package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/drblury/widgetbus/internal/runtime/jsoncodec"
)

func init() {
	// Users can disable colors with NO_COLOR.
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func printError(w io.Writer, err error) {
	red.Fprintf(w, "Error: ")
	fmt.Fprintln(w, err)
}

func printSuccess(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ "+format+"\n", a...)
}

func printWarning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "⚠️  "+format+"\n", a...)
}

// compactJSON renders v on one line, falling back to %v for values the codec
// cannot encode.
func compactJSON(v any) string {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// parseJSONArg decodes an optional JSON command-line argument. Bare words
// that are not valid JSON are taken as strings.
func parseJSONArg(args []string, idx int) any {
	if len(args) <= idx {
		return nil
	}
	v, err := jsoncodec.UnmarshalValue([]byte(args[idx]))
	if err != nil {
		return args[idx]
	}
	return v
}
