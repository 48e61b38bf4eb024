package cli

import (
	"context"
	"encoding/json"
	"fmt"

	flag "github.com/spf13/pflag"
)

// StatsCmd returns the stats command.
func StatsCmd(s *session) *Command {
	flags := flag.NewFlagSet("stats", flag.ContinueOnError)
	passes := flags.IntP("passes", "n", 1, "Number of full scans to run before reporting")
	asJSON := flags.Bool("json", false, "Print counters as JSON")

	return &Command{
		Flags: flags,
		Usage: "stats [-n passes] [--json]",
		Short: "Scan the store and print page cache counters",
		Long: `Run full gap-free scans over the store and print the page cache counters
they produced. A second pass shows cache hits.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execStats(ctx, o, s, *passes, *asJSON)
		},
	}
}

func execStats(ctx context.Context, o *IO, s *session, passes int, asJSON bool) error {
	if passes < 1 {
		return fmt.Errorf("%w: passes must be >= 1, got %d", ErrInvalidArgument, passes)
	}

	for range passes {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		reader, err := openGapFree(s, nil)
		if err != nil {
			return err
		}

		for _, err := range reader.All() {
			if err != nil {
				return joinClose(err, reader)
			}
		}

		if err := reader.Close(); err != nil {
			return err
		}
	}

	stats := s.factory.Tracer().Stats()

	if asJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("format stats: %w", err)
		}

		o.Println(string(data))

		return nil
	}

	o.Printf("page_cache: %s\n", s.factory.Config())
	o.Printf("pins=%d hits=%d faults=%d evictions=%d cursors=%d open_cursors=%d\n",
		stats.Pins, stats.Hits, stats.Faults, stats.Evictions, stats.Cursors, stats.OpenCursors)

	return nil
}
