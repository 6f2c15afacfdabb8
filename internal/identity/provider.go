package identity

import (
	"context"
	"sync"
)

// Provider yields the current user identity. Booking and review flows take
// it as an explicit dependency instead of reading ambient auth state.
type Provider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// ContextProvider resolves identity from the request context populated by
// the UserJWT middleware.
type ContextProvider struct{}

func (ContextProvider) CurrentUserID(ctx context.Context) (string, bool) {
	return UserIDFromContext(ctx)
}

// Notifier fans out session changes to subscribers. A change carries the
// current user id, or the empty string when the session ended.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(userID string)
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(string))}
}

// Subscribe registers a callback and returns an unsubscribe func. The
// callback runs synchronously on the notifying goroutine.
func (n *Notifier) Subscribe(fn func(userID string)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Notify informs all subscribers of the current session identity.
func (n *Notifier) Notify(userID string) {
	n.mu.Lock()
	callbacks := make([]func(string), 0, len(n.subs))
	for _, fn := range n.subs {
		callbacks = append(callbacks, fn)
	}
	n.mu.Unlock()

	for _, fn := range callbacks {
		fn(userID)
	}
}
