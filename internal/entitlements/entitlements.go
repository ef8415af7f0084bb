// Package entitlements computes the content a principal may see from its
// tenant membership tag. Pure functions, no storage or network side
// effects; safe to call on every page render.
package entitlements

import (
	"strings"

	"github.com/titanfed/titan/internal/registry"
)

// scopeAll marks content visible to every principal.
const scopeAll = "ALL"

// Visible reports whether a single content item is visible to a principal
// with the given membership tag. Empty or "ALL" scope tags are visible to
// everyone; otherwise the tag must match case-insensitively.
func Visible(membershipTag string, c *registry.Content) bool {
	if c == nil {
		return false
	}
	scope := strings.TrimSpace(c.ScopeTag)
	if scope == "" || strings.EqualFold(scope, scopeAll) {
		return true
	}
	return strings.EqualFold(scope, strings.TrimSpace(membershipTag))
}

// VisibleContent filters all to the subset visible for membershipTag. O(n)
// in content count with an O(1) comparison per item; identical inputs
// always yield the identical subset.
func VisibleContent(membershipTag string, all []*registry.Content) []*registry.Content {
	out := make([]*registry.Content, 0, len(all))
	for _, c := range all {
		if Visible(membershipTag, c) {
			out = append(out, c)
		}
	}
	return out
}
