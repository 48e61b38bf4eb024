// Package labelscan stores which tokens (labels) each entity carries and
// serves them as a [tokenscan.ScanStore].
//
// Each token's entities are kept as a roaring64 bitmap. On read the bitmaps
// are inverted into fixed-width entity ranges; only ranges where some entity
// carries a token are produced, which is what [tokenscan.GapFreeReader]
// expects to fill in.
//
// # Basic Usage
//
//	store, err := labelscan.Open(fsys, cache, labelscan.Options{Path: "labels.tks"})
//	if err != nil {
//	    return err
//	}
//
//	w, err := store.Update()
//	if err != nil {
//	    return err // [ErrBusy] if another writer is active
//	}
//	defer w.Close()
//
//	_ = w.Add(42, 1, 7)
//	if err := w.Commit(); err != nil {
//	    return err
//	}
//
// # Concurrency
//
// Readers never block. Writers are serialized by an flock on "<path>.lock"
// and publish by atomic rename, so a reader sees either the old or the new
// committed state.
package labelscan
