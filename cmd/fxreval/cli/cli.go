// Package cli implements the fxreval subcommands. Each command returns a
// process exit code and writes to the writers in its options.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Exit codes shared by every command.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitWarnings = 2
	ExitBusy     = 4
	ExitGaps     = 10
)

var printer = message.NewPrinter(language.English)

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(raw))
}

// amount renders a decimal with thousands separators. Display only.
func amount(d decimal.Decimal) string {
	return printer.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

// parsePair accepts EURUSD, EUR/USD or EUR-USD.
func parsePair(raw string) (string, string, error) {
	p := strings.ToUpper(strings.TrimSpace(raw))
	p = strings.NewReplacer("/", "", "-", "", " ", "").Replace(p)
	if len(p) != 6 {
		return "", "", fmt.Errorf("invalid pair %q (expected e.g. EURUSD)", raw)
	}
	return p[:3], p[3:], nil
}

// SplitList splits a comma-separated flag value, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
