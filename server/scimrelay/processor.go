package scimrelay

import "context"

// EventProcessor drives deliveries to a terminal state. The scheduled poller
// is the default implementation; alternates (e.g. broker-fed ones) plug in
// behind the same interface and are selected by configuration. Exactly one
// processor is active at runtime.
type EventProcessor interface {
	// Start begins processing. It does not block.
	Start(ctx context.Context) error

	// Stop shuts the processor down cooperatively, waiting up to its drain
	// timeout for in-flight work.
	Stop(ctx context.Context) error

	// OnEvent offers an event directly to the processor. Polling
	// implementations may ignore it; push implementations use it as their
	// ingress.
	OnEvent(ctx context.Context, event *LocalEvent) error
}
