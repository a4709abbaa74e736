package reconcile

import (
	"sync"

	"chatsync/pkg/models"
)

// FeedSubscription is the handle the push-delivery collaborator returns
// from a subscribe call.
type FeedSubscription interface {
	Unsubscribe()
	Lost() <-chan struct{}
}

// Feed is the push-delivery collaborator surface the adapter needs.
type Feed interface {
	Subscribe(conversationID string, fn func(models.Message)) (FeedSubscription, error)
}

// Adapter binds one feed subscription to one reconciler: every delivered
// row-insert event is forwarded verbatim to ApplyRemoteInsert. It does
// not retry lost channels; reconnection is the caller's concern.
type Adapter struct {
	sub  FeedSubscription
	once sync.Once
}

// Attach subscribes to the reconciler's conversation and starts
// forwarding. The caller must Detach before discarding the reconciler so
// no event is delivered into a dead one; Detach is guaranteed-safe on
// every exit path (idempotent).
func Attach(f Feed, r *Reconciler) (*Adapter, error) {
	sub, err := f.Subscribe(r.ConversationID(), r.ApplyRemoteInsert)
	if err != nil {
		return nil, err
	}
	return &Adapter{sub: sub}, nil
}

// Detach unregisters from the feed. Idempotent.
func (a *Adapter) Detach() {
	a.once.Do(func() { a.sub.Unsubscribe() })
}

// Lost reports, by channel close, that the delivery channel disconnected.
// Surfaced as a passive staleness state; the adapter never reconnects.
func (a *Adapter) Lost() <-chan struct{} {
	return a.sub.Lost()
}
