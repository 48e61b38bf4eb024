package cli

import (
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tokenscan/pkg/labelscan"
)

// AddCmd returns the add command.
func AddCmd(s *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("add", flag.ContinueOnError),
		Usage: "add <entity> <token>...",
		Short: "Label an entity with tokens",
		Long:  "Add one or more tokens to an entity and commit the store atomically.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execEdit(o, s, args, "added", (*labelscan.Writer).Add)
		},
	}
}

// RemoveCmd returns the remove command.
func RemoveCmd(s *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("remove", flag.ContinueOnError),
		Usage: "remove <entity> <token>...",
		Short: "Remove tokens from an entity",
		Long:  "Remove one or more tokens from an entity and commit the store atomically.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execEdit(o, s, args, "removed", (*labelscan.Writer).Remove)
		},
	}
}

func execEdit(o *IO, s *session, args []string, verb string, op func(*labelscan.Writer, int64, ...int64) error) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: entity and at least one token are required", ErrMissingArgument)
	}

	entity, err := parseInt64("entity", args[0])
	if err != nil {
		return err
	}

	tokens, err := parseInt64s("token", args[1:])
	if err != nil {
		return err
	}

	if err := s.open(); err != nil {
		return err
	}

	w, err := s.store.Update()
	if err != nil {
		if errors.Is(err, labelscan.ErrBusy) {
			o.Warn("store is locked by another writer", "retry when it finishes")

			return nil
		}

		return err
	}

	if err := op(w, entity, tokens...); err != nil {
		return errors.Join(err, w.Close())
	}

	if err := w.Commit(); err != nil {
		return errors.Join(err, w.Close())
	}

	if err := w.Close(); err != nil {
		return err
	}

	o.Printf("%s %d token(s) on entity %d\n", verb, len(tokens), entity)

	return nil
}
