// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
)

func opProvidersSetConfig(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	apiKey, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	if deps.Providers == nil {
		return nil, fmt.Errorf("bridge: provider config not available")
	}
	return nil, deps.Providers.Set(name, apiKey)
}

func opProvidersList(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	if deps.Providers == nil {
		return []string{}, nil
	}
	return deps.Providers.Configured(), nil
}
