// Package correlation carries a per-request correlation identifier on the
// context so log lines from the coordinator, the stores and the event bus can
// be stitched back together.
package correlation

import (
	"context"
	"strings"

	"github.com/rs/xid"
)

// MaxIDLength caps externally supplied correlation identifiers.
const MaxIDLength = 128

type contextKey struct{}

// Generate returns a fresh sortable correlation ID.
func Generate() string {
	return xid.New().String()
}

// Set records the correlation ID on ctx when id is acceptable.
func Set(ctx context.Context, id string) context.Context {
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

// ID retrieves the correlation ID stored on ctx, if any.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Has reports whether ctx carries a correlation ID.
func Has(ctx context.Context) bool {
	return ID(ctx) != ""
}

// Normalize validates and canonicalizes an external correlation identifier.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}
