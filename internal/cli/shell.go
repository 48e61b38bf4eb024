package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

// lineReader is the part of [liner.State] the shell uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// ShellCmd returns the interactive shell command. commands is consulted
// lazily so the shell sees the full command table, itself excluded.
func ShellCmd(commands func() map[string]*Command, env map[string]string) *Command {
	flags := flag.NewFlagSet("shell", flag.ContinueOnError)
	noHistory := flags.Bool("no-history", false, "Do not read or write the history file")

	return &Command{
		Flags: flags,
		Usage: "shell [--no-history]",
		Short: "Start an interactive shell",
		Long: `Read commands interactively with line editing, history and tab completion.
Every command available on the command line can be used without the
"tokenscan" prefix. Type "help" for the list, "exit" or Ctrl-D to leave.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			state := liner.NewLiner()
			defer state.Close()

			state.SetCtrlCAborts(true)
			state.SetCompleter(completer(commands()))

			history := ""
			if !*noHistory {
				history = historyFile(env)
			}

			if history != "" {
				if f, err := os.Open(history); err == nil {
					_, _ = state.ReadHistory(f)
					_ = f.Close()
				}
			}

			err := runShell(ctx, o, state, commands())

			if history != "" {
				saveHistory(state, history)
			}

			return err
		},
	}
}

// runShell reads lines from lr until exit, EOF or ctx is done and runs each
// as a command. Command failures are printed and do not end the shell.
func runShell(ctx context.Context, o *IO, lr lineReader, commands map[string]*Command) error {
	o.Println(`tokenscan shell - type "help" for commands, "exit" to quit`)

	for ctx.Err() == nil {
		line, err := lr.Prompt("tokenscan> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				o.Println("bye")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lr.AppendHistory(line)

		fields := strings.Fields(line)
		name, args := fields[0], fields[1:]

		switch name {
		case "exit", "quit", "q":
			o.Println("bye")

			return nil
		case "help", "?":
			printShellHelp(o, commands)

			continue
		}

		cmd, ok := commands[name]
		if !ok {
			o.ErrPrintln("error:", fmt.Errorf("%w: %s", ErrUnknownCommand, name))

			continue
		}

		// Each line gets fresh warnings, sharing the shell's writers.
		lineIO := NewIO(o.out, o.errOut)
		if code := cmd.Run(ctx, lineIO, args); code == 0 {
			_ = lineIO.Finish()
		}
	}

	return ctx.Err()
}

func printShellHelp(o *IO, commands map[string]*Command) {
	o.Println("Commands:")

	for _, name := range sortedNames(commands) {
		o.Println(commands[name].HelpLine())
	}

	o.Println("  help                               Show this help")
	o.Println("  exit                               Leave the shell")
}

func completer(commands map[string]*Command) liner.Completer {
	names := append(sortedNames(commands), "help", "exit")

	return func(line string) []string {
		var out []string

		for _, name := range names {
			if strings.HasPrefix(name, line) {
				out = append(out, name)
			}
		}

		return out
	}
}

func sortedNames(commands map[string]*Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// historyFile returns $XDG_STATE_HOME/tokenscan/history or
// ~/.local/state/tokenscan/history, or "" if neither is known.
func historyFile(env map[string]string) string {
	if dir := env["XDG_STATE_HOME"]; dir != "" {
		return filepath.Join(dir, "tokenscan", "history")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".local", "state", "tokenscan", "history")
	}

	return ""
}

func saveHistory(state *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}

	_, _ = state.WriteHistory(f)
	_ = f.Close()
}
