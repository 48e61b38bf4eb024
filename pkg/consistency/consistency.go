// Package consistency cross-checks a token scan store against the set of
// entities that actually exist.
package consistency

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/calvinalkan/tokenscan/pkg/tokenscan"
)

// MaxViolations caps the violations kept in a [Report]. Further ones are
// only counted.
const MaxViolations = 1000

// ErrBrokenSequence indicates the gap-free reader did not deliver range ids
// 0, 1, 2, ... through its highest range id.
var ErrBrokenSequence = errors.New("consistency: broken range sequence")

// Reason says why a label is inconsistent.
type Reason string

// Reasons reported by [CheckLabels].
const (
	// ReasonBeyondHighID: the entity id is >= the reader's high id.
	ReasonBeyondHighID Reason = "beyond_high_id"

	// ReasonNotLive: the entity is not in the live set.
	ReasonNotLive Reason = "not_live"
)

// Violation is one inconsistent entity.
type Violation struct {
	Entity int64   `json:"entity"`
	Tokens []int64 `json:"tokens"`
	Reason Reason  `json:"reason"`
}

// Report summarizes a check.
type Report struct {
	Ranges           int64       `json:"ranges"`
	EmptyRanges      int64       `json:"empty_ranges"`
	LabelledEntities int64       `json:"labelled_entities"`
	ViolationCount   int64       `json:"violation_count"`
	Violations       []Violation `json:"violations,omitempty"`
}

// OK reports whether no violation was found.
func (r Report) OK() bool {
	return r.ViolationCount == 0
}

// CheckLabels walks the gap-free sequence once.
//
// Every entity carrying tokens must be below the reader's high id and, when
// live is non-nil, be in live. Violations are reported, not returned as
// errors. An error is returned when the traversal itself fails or the
// sequence skips, repeats or stops short of the highest range id.
func CheckLabels(reader *tokenscan.GapFreeReader, live *roaring64.Bitmap) (Report, error) {
	var report Report

	highID := reader.HighID()
	want := int64(0)

	for r, err := range reader.All() {
		if err != nil {
			return report, fmt.Errorf("check labels after %d ranges: %w", report.Ranges, err)
		}

		if r.ID != want {
			return report, fmt.Errorf("%w: got range %d, want %d", ErrBrokenSequence, r.ID, want)
		}

		want++
		report.Ranges++

		if r.IsEmpty() {
			report.EmptyRanges++

			continue
		}

		for slot, tokens := range r.Tokens {
			if len(tokens) == 0 {
				continue
			}

			entity := r.Entity(slot)
			report.LabelledEntities++

			switch {
			case entity >= highID:
				report.add(Violation{Entity: entity, Tokens: tokens, Reason: ReasonBeyondHighID})
			case live != nil && !live.Contains(uint64(entity)):
				report.add(Violation{Entity: entity, Tokens: tokens, Reason: ReasonNotLive})
			}
		}
	}

	if want <= reader.HighestRangeID() {
		return report, fmt.Errorf("%w: stopped after range %d, want through %d",
			ErrBrokenSequence, want-1, reader.HighestRangeID())
	}

	return report, nil
}

func (r *Report) add(v Violation) {
	r.ViolationCount++

	if len(r.Violations) < MaxViolations {
		r.Violations = append(r.Violations, v)
	}
}
