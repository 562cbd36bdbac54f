package ports

import "github.com/aretw0/concord/pkg/domain"

// Publisher delivers committed events to the participants of a session.
// Publish must not block on slow consumers.
type Publisher interface {
	Publish(event domain.Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(domain.Event)

// Publish calls f(event).
func (f PublisherFunc) Publish(event domain.Event) { f(event) }
