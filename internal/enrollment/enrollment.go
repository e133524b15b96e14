// Package enrollment answers whether a learner may start a tutoring session
// for a course and supplies the course material the tutor is grounded on.
package enrollment

import (
	"context"
	"errors"
)

// ErrNoContent is returned by ReferenceContent when the course has no
// published material to ground the tutor on.
var ErrNoContent = errors.New("enrollment: course has no reference content")

// Provider exposes the two platform lookups the gateway needs before it will
// open an upstream session.
type Provider interface {
	// IsEntitled reports whether the user is actively enrolled in the course.
	IsEntitled(ctx context.Context, userID, courseID string) (bool, error)

	// ReferenceContent returns the aggregated course material used to build
	// the tutor's instructions. Returns ErrNoContent when nothing is
	// published for the course.
	ReferenceContent(ctx context.Context, courseID string) (string, error)
}
