// ABOUTME: Request identity carried through handlers via context
// ABOUTME: Provides WithStudent/StudentFromContext for the authenticated student name

package auth

import "context"

// studentKey is the key type for storing the student in context.Context.
type studentKey struct{}

// Anonymous is the student name used when authentication is disabled.
const Anonymous = "anonymous"

// WithStudent returns a new context carrying the authenticated student.
func WithStudent(ctx context.Context, student string) context.Context {
	return context.WithValue(ctx, studentKey{}, student)
}

// StudentFromContext returns the student attached to ctx, or "" if none.
func StudentFromContext(ctx context.Context) string {
	s, _ := ctx.Value(studentKey{}).(string)
	return s
}
