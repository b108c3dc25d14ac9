package credential

import "context"

// EvaluateChain walks the ownership hierarchy of a project access — access,
// environment, project, then the bound service account if any — and returns
// the access when every link is enabled. The first disabled link is reported
// via ChainDisabledError. The walk reads current state on every call; nothing
// is cached between issuance and verification, so disabling any ancestor
// takes effect on the next evaluation.
func (s *Service) EvaluateChain(ctx context.Context, accessID string) (*ProjectAccess, error) {
	access, err := s.store.Accesses(ctx).Find(ctx, accessID)
	if err != nil {
		return nil, err
	}
	if !access.Enabled {
		return nil, &ChainDisabledError{Reason: ReasonProjectAccessDisabled}
	}
	env, err := s.store.Environments(ctx).Find(ctx, access.EnvironmentID)
	if err != nil {
		return nil, err
	}
	if !env.Enabled {
		return nil, &ChainDisabledError{Reason: ReasonEnvironmentDisabled}
	}
	project, err := s.store.Projects(ctx).Find(ctx, env.ProjectID)
	if err != nil {
		return nil, err
	}
	if !project.Enabled {
		return nil, &ChainDisabledError{Reason: ReasonProjectDisabled}
	}
	if access.ServiceAccountID != nil {
		account, err := s.store.ServiceAccounts(ctx).Find(ctx, *access.ServiceAccountID)
		if err != nil {
			return nil, err
		}
		if !account.Enabled {
			return nil, &ChainDisabledError{Reason: ReasonServiceAccountDisabled}
		}
	}
	return access, nil
}
