package handlers

import (
	"phantomrecorder/backend/internal/services"
	"phantomrecorder/backend/pkg/auth"
)

// Handlers carries the services the API endpoints act on.
type Handlers struct {
	Manager *services.Manager
	Issuer  *auth.Issuer
	// Done is closed on shutdown to end open event streams.
	Done <-chan struct{}
}
