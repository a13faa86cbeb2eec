package domain

import "context"

type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}
