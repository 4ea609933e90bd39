// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package slashcmd parses slash-command input (spec.md §6): tokenizing
// text beginning with "/" respecting double-quotes, resolving it against a
// registry of command definitions, and driving cursor-aware suggestions.
package slashcmd

import (
	"fmt"
	"strings"
)

// Tokenize splits input into whitespace-separated tokens, treating a
// double-quoted run as a single token (quotes themselves are stripped).
// An unterminated quote is an error.
func Tokenize(input string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	hasToken := false

	flush := func() {
		if hasToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasToken = false
		}
	}

	for _, r := range input {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasToken = true
		case r == ' ' || r == '\t':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				flush()
			}
		default:
			cur.WriteRune(r)
			hasToken = true
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("slashcmd: unterminated quote in %q", input)
	}
	flush()
	return tokens, nil
}
