package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tokenscan/pkg/consistency"
)

// CheckCmd returns the check command.
func CheckCmd(s *session) *Command {
	flags := flag.NewFlagSet("check", flag.ContinueOnError)
	highID := flags.Int64("high-id", 0, "First entity id known not to exist (default: derived from the store)")
	live := flags.String("live", "", "Live entity ids, e.g. \"0-99,120,200-250\" (default: all below high-id)")

	return &Command{
		Flags: flags,
		Usage: "check [--high-id N] [--live IDS]",
		Short: "Check token consistency",
		Long: `Walk the gap-free range sequence and report entities whose tokens are
inconsistent: at or beyond high-id, or missing from the --live set. Any
violation makes the command exit with status 1.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execCheck(o, s, highIDFlag(flags, highID), *live)
		},
	}
}

func execCheck(o *IO, s *session, highID *int64, liveIDs string) error {
	var live *roaring64.Bitmap

	if liveIDs != "" {
		var err error

		live, err = parseIDSet(liveIDs)
		if err != nil {
			return err
		}
	}

	reader, err := openGapFree(s, highID)
	if err != nil {
		return err
	}

	report, err := consistency.CheckLabels(reader, live)
	if err != nil {
		return joinClose(err, reader)
	}

	if err := reader.Close(); err != nil {
		return err
	}

	o.Printf("ranges=%d empty=%d labelled=%d violations=%d\n",
		report.Ranges, report.EmptyRanges, report.LabelledEntities, report.ViolationCount)

	for _, v := range report.Violations {
		o.Printf("entity %d %v: %s\n", v.Entity, v.Tokens, v.Reason)
	}

	if !report.OK() {
		o.Warn(fmt.Sprintf("%d inconsistent entities", report.ViolationCount), "remove their tokens or rebuild the store")
	}

	return nil
}

// parseIDSet parses "1,5-9,12" into a bitmap. Ranges are inclusive.
func parseIDSet(list string) (*roaring64.Bitmap, error) {
	out := roaring64.New()

	for part := range strings.SplitSeq(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")

		start, err := parseInt64("live id", lo)
		if err != nil {
			return nil, err
		}

		end := start

		if isRange {
			end, err = parseInt64("live id", hi)
			if err != nil {
				return nil, err
			}
		}

		if start < 0 || end < start {
			return nil, fmt.Errorf("%w: live range %q", ErrInvalidArgument, part)
		}

		out.AddRange(uint64(start), uint64(end)+1)
	}

	return out, nil
}
