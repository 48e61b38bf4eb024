// Package tokenscan exposes a dense, gap-free view over a sparse token scan
// store.
//
// A token scan store (for example a label index) groups entities into ranges
// of a fixed width and only stores ranges where at least one entity carries a
// token. Consumers such as consistency checks want every range from id 0 up to
// the range holding the highest known entity, in order, with nothing missing.
// [GapFreeReader] provides that view by merging the store's sparse sequence
// with the expected range id and synthesizing empty ranges for the gaps.
//
// # Basic Usage
//
//	reader, err := tokenscan.NewGapFreeReader(store, highID, tracer)
//	if err != nil {
//	    return err
//	}
//	defer reader.Close()
//
//	it := reader.Iterator()
//	for it.Next() {
//	    r := it.Range()
//	    for slot, tokens := range r.Tokens {
//	        entity := r.Entity(slot)
//	        // ...
//	    }
//	}
//	if err := it.Err(); err != nil {
//	    return err
//	}
//
// # Concurrency
//
// A reader and its iterators are single-consumer. The store's range sequence
// is assumed single-pass, so do not run two traversals at once and do not use
// an iterator after [GapFreeReader.Close].
//
// # Error Handling
//
// Read failures from the store are returned through [GapFillingIterator.Err]
// and are never replaced by synthesized ranges. A store that yields ranges out
// of order produces an error matching [ErrOutOfOrder]; that is a data or
// programming error, not something to retry.
package tokenscan
