package cli_test

import (
	"bytes"
	"testing"

	"github.com/calvinalkan/tokenscan/internal/cli"
)

func Test_Invalid_Global_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "ranges")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")

	cli.AssertContains(t, stderr, "Global flags:")
	cli.AssertContains(t, stderr, "--help")
	cli.AssertContains(t, stderr, "--cwd")
	cli.AssertContains(t, stderr, "--config")
	cli.AssertContains(t, stderr, "--store")
}

func Test_Empty_Store_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--store=", "ranges")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "store-path cannot be empty")
	cli.AssertContains(t, stderr, "Global flags:")
}

func Test_Bare_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	exitCode := cli.Run(nil, &stdout, &stderr, []string{"tokenscan"}, nil, nil)

	if got, want := exitCode, 0; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stderr.String(), ""; got != want {
		t.Errorf("stderr=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stdout.String(), "tokenscan - gap-free token scan store tool")
	cli.AssertContains(t, stdout.String(), "--cwd")
	cli.AssertContains(t, stdout.String(), "ranges [--high-id N] [--all]")
	cli.AssertContains(t, stdout.String(), "failure store|load|clear")
	cli.AssertContains(t, stdout.String(), "shell")
}

func Test_Unknown_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Command_Help_When_Help_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("ranges", "--help")

	cli.AssertContains(t, stdout, "Usage: tokenscan ranges")
	cli.AssertContains(t, stdout, "--high-id")
	cli.AssertContains(t, stdout, "--all")
}

func Test_Command_Flag_Error_Prints_Command_Help(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("ranges", "--high-id", "lots")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stderr, "error:")
	cli.AssertContains(t, stdout, "Usage: tokenscan ranges")
}

func Test_Invalid_Log_Level_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--log-level", "chatty", "ranges")

	cli.AssertContains(t, stderr, "invalid log level")
}
