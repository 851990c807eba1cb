package tui

import (
	"fmt"
	"io"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/validation"
	"github.com/muesli/termenv"
)

// Report writes a validation result, one issue per line, colored for profile.
// Use termenv.Ascii for uncolored output.
func Report(w io.Writer, res validation.Result, profile termenv.Profile) {
	red := profile.Color("#ef4444")
	yellow := profile.Color("#eab308")
	green := profile.Color("#22c55e")

	for _, is := range res.Issues {
		color, label := yellow, "warning"
		if is.Severity == domain.SeverityError {
			color, label = red, "error"
		}
		subject := is.Path
		if is.Field != "" {
			subject += "." + is.Field
		}
		fmt.Fprintf(w, "%s %s: %s\n",
			profile.String(fmt.Sprintf("%-7s", label)).Foreground(color).Bold(),
			subject, is.Message)
	}

	errs, warns := len(res.Errors()), len(res.Warnings())
	switch {
	case errs > 0:
		fmt.Fprintln(w, profile.String(fmt.Sprintf("invalid: %d errors, %d warnings", errs, warns)).Foreground(red))
	case warns > 0:
		fmt.Fprintln(w, profile.String(fmt.Sprintf("valid with %d warnings", warns)).Foreground(yellow))
	default:
		fmt.Fprintln(w, profile.String("valid").Foreground(green))
	}
}
