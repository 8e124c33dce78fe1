package repositorycache

import (
	"context"
	"strings"
)

type invalidationTagsContextKey struct{}

// WithInvalidationTags attaches extra entity prefixes to the context. Any
// write performed with the returned context additionally sweeps those
// prefixes, which covers cross-entity dependencies such as invalidating
// cached membership listings when a user changes.
func WithInvalidationTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	if len(cleaned) == 0 {
		return ctx
	}

	combined := dedupeStrings(append(invalidationTagsFromContext(ctx), cleaned...))
	return context.WithValue(ctx, invalidationTagsContextKey{}, combined)
}

func invalidationTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(invalidationTagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
