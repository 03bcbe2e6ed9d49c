package eventbus

import "context"

// memoryBus is an in-process, synchronous Bus double used by tests and as a
// zero-dependency default: Publish invokes every registered handler inline.
type memoryBus struct {
	handlers []Handler
}

// NewMemory returns an in-process Bus.
func NewMemory() Bus { return &memoryBus{} }

func (b *memoryBus) Publish(ctx context.Context, e Event) error {
	for _, h := range b.handlers {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *memoryBus) Run(_ context.Context, handler Handler) error {
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *memoryBus) Close() error { return nil }
