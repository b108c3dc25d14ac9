package credential

import (
	"context"
	"sort"
)

// ResolveScopes computes the scope names usable under an access right now:
// junction rows joined to their scopes, enabled scopes only, deduplicated and
// sorted lexicographically so audit logs and tests see a stable order. An
// empty result is valid; the access simply authorizes nothing.
func (s *Service) ResolveScopes(ctx context.Context, accessID string) ([]string, error) {
	scopes, err := s.store.Scopes(ctx).ForAccess(ctx, accessID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(scopes))
	names := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if !scope.Enabled {
			continue
		}
		if _, ok := seen[scope.Name]; ok {
			continue
		}
		seen[scope.Name] = struct{}{}
		names = append(names, scope.Name)
	}
	sort.Strings(names)
	return names, nil
}
