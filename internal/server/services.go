package server

import (
	"errors"

	"github.com/openmined/kbsync/internal/server/handlers/events"
	"github.com/openmined/kbsync/internal/server/handlers/trigger"
)

var ErrNoServices = errors.New("neither sync nor event dispatch is configured")

// Services are the engines the routes trigger. Either may be nil, in which
// case its routes are not registered.
type Services struct {
	Sync   trigger.Runner
	Events events.Dispatcher
}

func (s *Services) validate() error {
	if s == nil || (s.Sync == nil && s.Events == nil) {
		return ErrNoServices
	}
	return nil
}
