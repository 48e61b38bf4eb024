package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tokenscan/pkg/tokenscan"
)

// RangesCmd returns the ranges command.
func RangesCmd(s *session) *Command {
	flags := flag.NewFlagSet("ranges", flag.ContinueOnError)
	highID := flags.Int64("high-id", 0, "First entity id known not to exist (default: one past the highest labelled entity)")
	all := flags.BoolP("all", "a", false, "Print empty ranges too")

	return &Command{
		Flags: flags,
		Usage: "ranges [--high-id N] [--all]",
		Short: "Print the gap-free range sequence",
		Long: `Walk every range from 0 through the range holding entity high-id - 1.
Ranges missing from the store are filled in as empty ranges. Only ranges
with tokens are printed unless --all is given; the summary line counts all.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execRanges(ctx, o, s, highIDFlag(flags, highID), *all)
		},
	}
}

func execRanges(ctx context.Context, o *IO, s *session, highID *int64, all bool) error {
	reader, err := openGapFree(s, highID)
	if err != nil {
		return err
	}

	var total, empty int64

	for r, err := range reader.All() {
		if err != nil {
			return joinClose(err, reader)
		}

		if ctx.Err() != nil {
			return joinClose(ctx.Err(), reader)
		}

		total++

		if r.IsEmpty() {
			empty++

			if all {
				o.Printf("range %d: (empty)\n", r.ID)
			}

			continue
		}

		o.Printf("range %d: %s\n", r.ID, formatRange(r))
	}

	o.Printf("# ranges=%d empty=%d high_id=%d highest_range_id=%d range_size=%d\n",
		total, empty, reader.HighID(), reader.HighestRangeID(), reader.RangeSize())

	return reader.Close()
}

// highIDFlag returns the --high-id value, or nil if the flag was not given.
func highIDFlag(flags *flag.FlagSet, v *int64) *int64 {
	if !flags.Changed("high-id") {
		return nil
	}

	highID := *v

	return &highID
}

// openGapFree opens a gap-free reader over the session store. A nil highID
// is derived from the store; an explicit one is passed through as given.
func openGapFree(s *session, highID *int64) (*tokenscan.GapFreeReader, error) {
	if err := s.open(); err != nil {
		return nil, err
	}

	var high int64

	if highID != nil {
		high = *highID
	} else {
		derived, err := s.store.HighEntityID()
		if err != nil {
			return nil, err
		}

		high = derived
	}

	return tokenscan.NewGapFreeReader(s.store, high, s.factory.Tracer(), tokenscan.WithLogger(s.log))
}

func formatRange(r tokenscan.Range) string {
	var b strings.Builder

	for slot, tokens := range r.Tokens {
		if len(tokens) == 0 {
			continue
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}

		fmt.Fprintf(&b, "%d=%v", r.Entity(slot), tokens)
	}

	return b.String()
}

func joinClose(err error, reader *tokenscan.GapFreeReader) error {
	return errors.Join(err, reader.Close())
}
