package tokenscan

// Range is one fixed-width block of entities and the tokens each carries.
//
// Entity ID*len(Tokens)+i is described by Tokens[i]. A nil slot means the
// entity carries no tokens.
//
// Ranges handed out by a reader may share backing arrays with other ranges
// (every synthesized gap shares one payload). Do not modify them.
type Range struct {
	// ID is the range's position in the total order, starting at 0.
	ID int64

	// Tokens holds the sorted token ids per entity slot.
	Tokens [][]int64
}

// Width returns the number of entity slots in the range.
func (r Range) Width() int {
	return len(r.Tokens)
}

// Entity returns the entity id described by the given slot.
func (r Range) Entity(slot int) int64 {
	return r.ID*int64(len(r.Tokens)) + int64(slot)
}

// IsEmpty reports whether no entity in the range carries a token.
func (r Range) IsEmpty() bool {
	for _, tokens := range r.Tokens {
		if len(tokens) > 0 {
			return false
		}
	}

	return true
}

// RangeOf returns the id of the range holding entity with the given width.
func RangeOf(entity int64, width int) int64 {
	return entity / int64(width)
}

// HighestRangeID returns the id of the range that holds entity highID-1.
//
// The division truncates toward zero, so a highID of 0 yields range 0 rather
// than -1: the gap-free sequence always contains at least one range.
func HighestRangeID(highID int64, width int) int64 {
	return (highID - 1) / int64(width)
}
