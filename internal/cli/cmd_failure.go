package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// FailureCmd returns the failure command.
func FailureCmd(s *session, stdin io.Reader) *Command {
	return &Command{
		Flags: flag.NewFlagSet("failure", flag.ContinueOnError),
		Usage: "failure store|load|clear <index-id> [message]",
		Short: "Manage stored index failures",
		Long: `Store, load or clear the failure recorded for an index.

  failure store <index-id> <message...>   record a failure (message "-" reads stdin)
  failure load <index-id>                 print the recorded failure
  failure clear <index-id>                remove the recorded failure`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execFailure(o, s, stdin, args)
		},
	}
}

func execFailure(o *IO, s *session, stdin io.Reader, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: action and index id are required", ErrMissingArgument)
	}

	action := args[0]

	indexID, err := parseInt64("index id", args[1])
	if err != nil {
		return err
	}

	if err := s.open(); err != nil {
		return err
	}

	switch action {
	case "store":
		msg, err := failureMessage(stdin, args[2:])
		if err != nil {
			return err
		}

		if err := s.failures.Store(indexID, msg); err != nil {
			return err
		}

		o.Printf("stored failure for index %d\n", indexID)

	case "load":
		msg, found, err := s.failures.Load(indexID)
		if err != nil {
			return err
		}

		if !found {
			o.Warn(fmt.Sprintf("no failure stored for index %d", indexID), "nothing to report")

			return nil
		}

		o.Println(msg)

	case "clear":
		if err := s.failures.Clear(indexID); err != nil {
			return err
		}

		o.Printf("cleared failure for index %d\n", indexID)

	default:
		return fmt.Errorf("%w: failure action %q (want store, load or clear)", ErrInvalidArgument, action)
	}

	return nil
}

func failureMessage(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		if stdin == nil {
			return "", fmt.Errorf("%w: no stdin to read the message from", ErrMissingArgument)
		}

		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read message: %w", err)
		}

		args = []string{strings.TrimRight(string(data), "\n")}
	}

	msg := strings.Join(args, " ")
	if strings.TrimSpace(msg) == "" {
		return "", fmt.Errorf("%w: failure message is required", ErrMissingArgument)
	}

	return msg, nil
}
