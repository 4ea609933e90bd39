// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"fmt"
)

// argString decodes args[i] as a string, defaulting to "" if args is too
// short (many ops take optional trailing arguments).
func argString(args []json.RawMessage, i int) (string, error) {
	if i >= len(args) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return "", fmt.Errorf("bridge: arg %d: not a string: %w", i, err)
	}
	return s, nil
}

// argBool decodes args[i] as a bool, defaulting to false.
func argBool(args []json.RawMessage, i int) (bool, error) {
	if i >= len(args) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(args[i], &b); err != nil {
		return false, fmt.Errorf("bridge: arg %d: not a bool: %w", i, err)
	}
	return b, nil
}

// argInto decodes args[i] into v, leaving v unchanged if args is too short.
func argInto(args []json.RawMessage, i int, v interface{}) error {
	if i >= len(args) {
		return nil
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return fmt.Errorf("bridge: arg %d: %w", i, err)
	}
	return nil
}
