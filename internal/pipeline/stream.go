package pipeline

import "context"

// Start runs the pipeline on its own goroutine. The returned error channel receives
// Run's result once the output channel has been closed.
func (p *Pipeline) Start(ctx context.Context, in <-chan Event, buffer int) (<-chan Event, <-chan error) {
	out := make(chan Event, buffer)
	errc := make(chan error, 1)
	go func() {
		errc <- p.Run(ctx, in, out)
	}()
	return out, errc
}

// Feed sends events on a new channel and closes it afterwards.
func Feed(ctx context.Context, events []Event) <-chan Event {
	in := make(chan Event)
	go func() {
		defer close(in)
		for _, ev := range events {
			select {
			case in <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return in
}

// Sync pushes events through the pipeline and returns what was forwarded.
func (p *Pipeline) Sync(ctx context.Context, events []Event) ([]Event, error) {
	out, errc := p.Start(ctx, Feed(ctx, events), len(events))

	forwarded := make([]Event, 0, len(events))
	for ev := range out {
		forwarded = append(forwarded, ev)
	}
	return forwarded, <-errc
}
