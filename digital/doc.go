// Package digital defines the asynchronous digital-input wait contract and a
// Line type that enforces it on top of any Backend.
//
// Five operations are provided: WaitForHigh, WaitForLow, WaitForRisingEdge,
// WaitForFallingEdge and WaitForAnyEdge. Each has a blocking, context-aware
// form on Line and an explicit form through Line.Begin, which returns a *Wait
// that can be polled, awaited or abandoned.
//
// Wait until a ready line goes high:
//
//	if err := ready.WaitForHigh(ctx); err != nil {
//		return err
//	}
//
// Wait for the line or give up after a millisecond. There is no timeout
// primitive in the contract; the caller races the wait against a timer and
// the loser is abandoned:
//
//	ctx, cancel := context.WithTimeout(ctx, time.Millisecond)
//	defer cancel()
//	switch err := ready.WaitForHigh(ctx); {
//	case err == nil:
//		// high
//	case errors.Is(err, context.DeadlineExceeded):
//		// timed out; the wait was abandoned and the line is free again
//	default:
//		// backend failure, passed through as the backend reported it
//	}
//
// Multiple qualifying transitions before the caller consumes a wait are
// coalesced: the wait resolves once and Wait.Coalesced counts the extras.
// Callers must not rely on one wait per transition.
package digital
