package digital

import "context"

// HighWaiter waits for a line to be high.
type HighWaiter interface {
	// WaitForHigh returns nil once the line is high. If the line is already
	// high it returns without suspending.
	//
	// Note for implementers: the line may have gone low again before the
	// caller runs. WaitForHigh must still return nil in that case.
	WaitForHigh(ctx context.Context) error
}

// LowWaiter waits for a line to be low.
type LowWaiter interface {
	// WaitForLow returns nil once the line is low. If the line is already
	// low it returns without suspending.
	//
	// Note for implementers: the line may have gone high again before the
	// caller runs. WaitForLow must still return nil in that case.
	WaitForLow(ctx context.Context) error
}

// RisingEdgeWaiter waits for a low-to-high transition.
type RisingEdgeWaiter interface {
	WaitForRisingEdge(ctx context.Context) error
}

// FallingEdgeWaiter waits for a high-to-low transition.
type FallingEdgeWaiter interface {
	WaitForFallingEdge(ctx context.Context) error
}

// AnyEdgeWaiter waits for a transition in either direction. The result does
// not say which direction occurred.
type AnyEdgeWaiter interface {
	WaitForAnyEdge(ctx context.Context) error
}

// Waiter is the full wait contract.
type Waiter interface {
	HighWaiter
	LowWaiter
	RisingEdgeWaiter
	FallingEdgeWaiter
	AnyEdgeWaiter
}
