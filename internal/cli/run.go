package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tokenscan/pkg/fs"
)

// Run is the main entry point. Returns exit code.
//
// sigCh, if non-nil, cancels the running command on the first signal.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := newGlobalFlags()

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	if err := globals.set.Parse(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, globals.set, nil)

			return 0
		}

		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globals.set, nil)

		return 1
	}

	remaining := globals.set.Args()
	if *globals.help || len(remaining) == 0 {
		printUsage(out, globals.set, nil)

		return 0
	}

	cfg, err := LoadConfig(LoadConfigInput{
		WorkDirOverride:   *globals.workDir,
		ConfigPath:        *globals.configPath,
		StorePathOverride: *globals.storePath,
		HasStoreOverride:  globals.set.Changed("store"),
		LogLevelOverride:  *globals.logLevel,
		Env:               env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globals.set, nil)

		return 1
	}

	log, err := newLogger(errOut, cfg.LogLevel)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	sess := newSession(cfg, log, fs.NewReal())

	defer func() {
		if err := sess.Close(); err != nil {
			log.WithError(err).Warn("closing store")
		}
	}()

	commands := buildCommands(&cfg, sess, stdin, env)

	name := remaining[0]

	cmd, ok := commands[name]
	if !ok {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", ErrUnknownCommand, name))
		fprintln(errOut)
		printUsage(errOut, globals.set, commands)

		return 1
	}

	o := NewIO(out, errOut)

	if code := cmd.Run(ctx, o, remaining[1:]); code != 0 {
		return code
	}

	return o.Finish()
}

type globalFlags struct {
	set        *flag.FlagSet
	workDir    *string
	configPath *string
	storePath  *string
	logLevel   *string
	help       *bool
}

func newGlobalFlags() globalFlags {
	set := flag.NewFlagSet("tokenscan", flag.ContinueOnError)
	set.SetInterspersed(false)
	set.SetOutput(&strings.Builder{})

	return globalFlags{
		set:        set,
		workDir:    set.StringP("cwd", "C", "", "Run as if started in `dir`"),
		configPath: set.StringP("config", "c", "", "Use specified config `file`"),
		storePath:  set.String("store", "", "Token scan store `path` (overrides store_path)"),
		logLevel:   set.String("log-level", "", "Log `level`: debug, info, warn, error"),
		help:       set.BoolP("help", "h", false, "Show help"),
	}
}

// buildCommands returns the command table keyed by name.
func buildCommands(cfg *Config, sess *session, stdin io.Reader, env map[string]string) map[string]*Command {
	commands := make(map[string]*Command)

	register := func(cmds ...*Command) {
		for _, c := range cmds {
			commands[c.Name()] = c
		}
	}

	register(
		RangesCmd(sess),
		AddCmd(sess),
		RemoveCmd(sess),
		CheckCmd(sess),
		FailureCmd(sess, stdin),
		StatsCmd(sess),
		PrintConfigCmd(cfg),
	)

	withoutShell := make(map[string]*Command, len(commands))
	for name, c := range commands {
		withoutShell[name] = c
	}

	register(ShellCmd(func() map[string]*Command { return withoutShell }, env))

	return commands
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands map[string]*Command) {
	if commands == nil {
		commands = buildCommands(&Config{}, nil, nil, nil)
	}

	fprintln(w, `tokenscan - gap-free token scan store tool

Usage: tokenscan [global flags] <command> [args]

Global flags:`)

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})
	_, _ = io.WriteString(w, buf.String())

	fprintln(w)
	fprintln(w, "Commands:")

	for _, name := range sortedNames(commands) {
		fprintln(w, commands[name].HelpLine())
	}
}
