package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/odyssey-erp/fxreval/cmd/fxreval/cli"
	_ "github.com/odyssey-erp/fxreval/testing"
)

func runArgs(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunWithoutCommandPrintsUsage(t *testing.T) {
	code, _, stderr := runArgs()
	if code != cli.ExitError || !strings.Contains(stderr, "usage: fxreval") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := runArgs("revalue")
	if code != cli.ExitError || !strings.Contains(stderr, `unknown command "revalue"`) {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunHelpAndVersion(t *testing.T) {
	code, stdout, _ := runArgs("help")
	if code != cli.ExitOK || !strings.Contains(stdout, "functional-currency change") {
		t.Fatalf("code=%d stdout=%q", code, stdout)
	}
	code, stdout, _ = runArgs("version")
	if code != cli.ExitOK || !strings.HasPrefix(stdout, "fxreval ") {
		t.Fatalf("code=%d stdout=%q", code, stdout)
	}
}

func TestServeReturnsInTestMode(t *testing.T) {
	code, _, _ := runArgs("serve")
	if code != cli.ExitOK {
		t.Fatalf("serve in test mode returned %d", code)
	}
}

func TestRunRejectsMissingCompany(t *testing.T) {
	code, _, stderr := runArgs("run", "--date", "2025-03-31")
	if code != cli.ExitError || stderr == "" {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}
