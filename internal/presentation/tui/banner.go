package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the formtree banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	// Indigo to rose, one step per line
	lines := []struct {
		text, color string
	}{
		{"   __                      _                 ", "#818cf8"},
		{"  / _| ___  _ __ _ __ ___ | |_ _ __ ___  ___ ", "#a78bfa"},
		{" | |_ / _ \\| '__| '_ ` _ \\| __| '__/ _ \\/ _ \\", "#c084fc"},
		{" |  _| (_) | |  | | | | | | |_| | |  __/  __/", "#e879f9"},
		{" |_|  \\___/|_|  |_| |_| |_|\\__|_|  \\___|\\___|", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintf(w, "  %s\n\n", termenv.String("v"+strings.TrimSpace(version)).Faint())
}
