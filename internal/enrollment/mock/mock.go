// Package mock provides an in-memory enrollment provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/enrollment"
)

// Provider answers entitlement and content lookups from fixed maps. Error
// fields let tests force failures on specific operations.
type Provider struct {
	mu sync.Mutex

	// Entitled lists "userID/courseID" pairs that pass the entitlement check.
	Entitled map[string]bool

	// Content maps courseID to reference content. A missing key yields
	// enrollment.ErrNoContent.
	Content map[string]string

	// EntitledErr is returned by IsEntitled when set.
	EntitledErr error

	// ContentErr is returned by ReferenceContent when set.
	ContentErr error
}

// NewProvider returns a provider with empty maps.
func NewProvider() *Provider {
	return &Provider{
		Entitled: make(map[string]bool),
		Content:  make(map[string]string),
	}
}

// Allow marks the user as entitled to the course.
func (p *Provider) Allow(userID, courseID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Entitled[userID+"/"+courseID] = true
}

// IsEntitled implements enrollment.Provider.
func (p *Provider) IsEntitled(_ context.Context, userID, courseID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EntitledErr != nil {
		return false, p.EntitledErr
	}
	return p.Entitled[userID+"/"+courseID], nil
}

// ReferenceContent implements enrollment.Provider.
func (p *Provider) ReferenceContent(_ context.Context, courseID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ContentErr != nil {
		return "", p.ContentErr
	}
	content, ok := p.Content[courseID]
	if !ok {
		return "", enrollment.ErrNoContent
	}
	return content, nil
}

var _ enrollment.Provider = (*Provider)(nil)
