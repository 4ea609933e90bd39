// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"strings"
	"sync"

	"github.com/coder/cmux-sub011/internal/cmuxconfig"
	"github.com/coder/cmux-sub011/internal/provider"
	"github.com/coder/cmux-sub011/internal/provider/mock"
	"github.com/coder/cmux-sub011/internal/session"
)

// supportedProviders is the set of provider names a model string's prefix
// can resolve to (spec.md §6 names providers only as secrets-file keys;
// the wire formats themselves are out of scope, so every supported
// provider is served by the same deterministic mock.Client).
var supportedProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"google":    true,
}

// clientResolver implements session.ClientResolver by splitting a model
// string into "<provider>/<model>", checking the provider is known and has
// a configured API key, then returning a shared mock.Client — the
// deterministic stand-in for a real provider SDK (spec.md's Non-goals
// exclude "provider SDK wire formats").
type clientResolver struct {
	mu      sync.Mutex
	secrets cmuxconfig.ProviderSecrets
	client  *mock.Client
}

func newClientResolver(secrets cmuxconfig.ProviderSecrets) *clientResolver {
	return &clientResolver{secrets: secrets, client: mock.New()}
}

func (r *clientResolver) setSecrets(secrets cmuxconfig.ProviderSecrets) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets = secrets
}

func (r *clientResolver) Resolve(model string) (provider.Client, error) {
	providerName, modelName, found := strings.Cut(model, "/")
	if !found || providerName == "" || modelName == "" {
		return nil, session.ErrInvalidModelString
	}
	if !supportedProviders[providerName] {
		return nil, session.ErrProviderNotSupported
	}

	r.mu.Lock()
	_, hasKey := r.secrets[providerName]
	r.mu.Unlock()
	if !hasKey {
		return nil, session.ErrAPIKeyNotFound
	}

	return r.client, nil
}
