package assistant

import (
	"context"
	"fmt"
)

// Assistant manages conversation handles on the external assistant service.
// Handles are opaque strings.
type Assistant interface {
	CreateConversation(ctx context.Context) (string, error)
	// ValidateConversation returns nil when the handle is usable, an error
	// matching ErrInvalidHandle when the service rejected it, and an *APIError
	// for any other failure.
	ValidateConversation(ctx context.Context, handle string) error
	DeleteConversation(ctx context.Context, handle string) error
}

type assistantKey struct{}

// WithContext returns a new context carrying the given Assistant.
func WithContext(ctx context.Context, a Assistant) context.Context {
	return context.WithValue(ctx, assistantKey{}, a)
}

// FromContext retrieves the Assistant from the context.
// Returns nil if none was set.
func FromContext(ctx context.Context) Assistant {
	a, _ := ctx.Value(assistantKey{}).(Assistant)
	return a
}

// Loader creates an Assistant from config.
type Loader func(ctx context.Context) (Assistant, error)

// Plugin represents an assistant plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an assistant plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered assistant plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named assistant plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown assistant %q; valid: %v", name, Names())
}
