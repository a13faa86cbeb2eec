package usecase

import (
	"context"
	"sync"

	"github.com/semmidev/mongostash/internal/domain"
)

// Fanout delivers one event to every notifier. Notifiers run concurrently
// and a failure or panic in one never reaches the others or the caller.
type Fanout struct {
	notifiers []domain.Notifier
	logger    Logger
}

func NewFanout(logger Logger, notifiers ...domain.Notifier) *Fanout {
	return &Fanout{notifiers: notifiers, logger: logger}
}

func (f *Fanout) Len() int {
	return len(f.notifiers)
}

func (f *Fanout) Dispatch(ctx context.Context, event domain.Event) {
	if len(f.notifiers) == 0 {
		f.logger.Warnf("No notification channel configured, failure of %s not reported", event.Label)
		return
	}

	var wg sync.WaitGroup
	for _, n := range f.notifiers {
		wg.Add(1)
		go func(n domain.Notifier) {
			defer wg.Done()
			f.notify(ctx, n, event)
		}(n)
	}
	wg.Wait()
}

func (f *Fanout) notify(ctx context.Context, n domain.Notifier, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Errorf("Notifier %s panicked: %v", n.Name(), r)
		}
	}()

	if err := n.Notify(ctx, event); err != nil {
		f.logger.Errorf("Failed to notify via %s: %v", n.Name(), err)
		return
	}
	f.logger.Infof("Failure reported via %s", n.Name())
}
