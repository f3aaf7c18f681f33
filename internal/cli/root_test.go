package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunDispatchesInfoCommands(t *testing.T) {
	for _, args := range [][]string{{"version"}, {"--help"}, {"help"}} {
		if code := Run(args); code != 0 {
			t.Fatalf("Run(%v) = %d, want 0", args, code)
		}
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if code := Run([]string{"bogus"}); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestRunServeRejectsInvalidFlags(t *testing.T) {
	clearEnvVarsForTest(t)
	if code := Run([]string{"serve", "--config", t.TempDir() + "/raccoon.toml", "--port", "-1"}); code != 2 {
		t.Fatalf("expected exit 2 for invalid port, got %d", code)
	}
}

func TestPrintVersionAndUsage(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printVersion(&out)
	if !strings.HasPrefix(out.String(), "raccoon ") {
		t.Fatalf("unexpected version line %q", out.String())
	}
	out.Reset()
	printUsage(&out)
	if !strings.Contains(out.String(), "raccoon routes") {
		t.Fatal("usage should list the routes command")
	}
}
