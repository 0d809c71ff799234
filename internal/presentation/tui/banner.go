package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text, color string
}{
	{` _____              _____                    `, "#5eead4"},
	{`|__  /___ _ __     |  ___|__  _ __ __ _  ___ `, "#2dd4bf"},
	{`  / // _ \ '_ \    | |_ / _ \| '__/ _' |/ _ \`, "#14b8a6"},
	{` / /|  __/ | | |   |  _| (_) | | | (_| |  __/`, "#0d9488"},
	{`/____\___|_| |_|   |_|  \___/|_|  \__, |\___|`, "#0f766e"},
	{`                                  |___/      `, "#115e59"},
}

// PrintBanner writes the coloured banner to w, degrading to plain text on dumb terminals.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}
