package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/kalambet/chatembed/internal/actions"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// writeAffordance prints an action affordance as terminal text.
func writeAffordance(w io.Writer, a *actions.Affordance) {
	if a == nil {
		return
	}
	if a.Message != "" {
		fmt.Fprintln(w, colorize(colorDim, a.Message))
	}
	switch a.Kind {
	case actions.KindButton:
		if a.Href == "" {
			fmt.Fprintf(w, "  %s\n", colorize(colorBold, "["+a.Label+"]"))
			return
		}
		fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, "["+a.Label+"]"), colorize(colorBlue, a.Href))
	case actions.KindMedia:
		var details []string
		if a.SizeLabel != "" {
			details = append(details, a.SizeLabel)
		}
		if a.Pages > 0 {
			details = append(details, humanize.Comma(int64(a.Pages))+" pages")
		}
		line := fmt.Sprintf("  [%s] %s %s", a.MediaType, a.Label, colorize(colorBlue, a.Href))
		if len(details) > 0 {
			line += " (" + strings.Join(details, ", ") + ")"
		}
		fmt.Fprintln(w, line)
	case actions.KindCarousel:
		for _, p := range a.Products {
			price := humanize.CommafWithDigits(p.Price, 2)
			if cur := firstNonEmpty(p.Currency, a.Currency); cur != "" {
				price += " " + cur
			}
			fmt.Fprintf(w, "  • %s  %s", colorize(colorBold, p.Name), price)
			if p.URL != "" {
				fmt.Fprintf(w, "  %s", colorize(colorBlue, p.URL))
			}
			fmt.Fprintln(w)
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
