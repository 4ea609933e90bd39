// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package slashcmd

import "strings"

// ResultType discriminates Parse's result (spec.md §6).
type ResultType string

const (
	ResultCommand        ResultType = "command"
	ResultUnknownCommand ResultType = "unknown-command"
)

// Result is what Parse returns for one line of input.
type Result struct {
	Type       ResultType
	Command    string
	Subcommand string
	Args       []string
	Definition *Definition
}

// Parse tokenizes input and resolves it against the registry. Input not
// starting with "/" is not a command at all and Parse returns false.
func Parse(input string, reg *Registry) (Result, bool, error) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return Result{}, false, nil
	}
	tokens, err := Tokenize(trimmed[1:])
	if err != nil {
		return Result{}, true, err
	}
	if len(tokens) == 0 {
		return Result{Type: ResultUnknownCommand}, true, nil
	}

	command := tokens[0]
	def, ok := reg.defs[command]
	if !ok {
		return Result{Type: ResultUnknownCommand, Command: command}, true, nil
	}

	rest := tokens[1:]
	if len(def.Children) > 0 && len(rest) > 0 {
		for _, child := range def.Children {
			if child.Key == rest[0] {
				d := child
				return Result{
					Type:       ResultCommand,
					Command:    command,
					Subcommand: rest[0],
					Args:       rest[1:],
					Definition: &d,
				}, true, nil
			}
		}
		return Result{Type: ResultUnknownCommand, Command: command, Subcommand: rest[0]}, true, nil
	}

	d := def
	return Result{Type: ResultCommand, Command: command, Args: rest, Definition: &d}, true, nil
}

// Suggestion is one completion candidate offered at the cursor.
type Suggestion struct {
	Value       string
	Description string
}

// Suggestions returns completion candidates for input truncated at
// cursor. The stage is driven by how many tokens precede the cursor: with
// zero completed tokens it suggests top-level commands; with one
// completed token it descends into that command's children or its
// Suggestions source; deeper levels keep descending the same way.
func Suggestions(input string, cursor int, reg *Registry) []Suggestion {
	if cursor > len(input) {
		cursor = len(input)
	}
	head := input[:cursor]
	trimmed := strings.TrimLeft(head, " \t")
	if !strings.HasPrefix(trimmed, "/") {
		return nil
	}
	body := trimmed[1:]

	endsInSpace := strings.HasSuffix(body, " ") || strings.HasSuffix(body, "\t")
	tokens, err := Tokenize(body)
	if err != nil {
		return nil
	}

	var completed []string
	var partial string
	switch {
	case len(tokens) == 0:
		partial = ""
	case endsInSpace:
		completed = tokens
		partial = ""
	default:
		completed = tokens[:len(tokens)-1]
		partial = tokens[len(tokens)-1]
	}

	defs := reg.Definitions()
	var suggest Suggest
	for _, key := range completed {
		found := false
		for _, d := range defs {
			if d.Key != key {
				continue
			}
			defs = d.Children
			suggest = d.Suggestions
			found = true
			break
		}
		if !found {
			return nil
		}
	}

	var out []Suggestion
	for _, d := range defs {
		if strings.HasPrefix(d.Key, partial) {
			out = append(out, Suggestion{Value: d.Key, Description: d.Description})
		}
	}
	if suggest != nil {
		for _, v := range suggest(partial) {
			out = append(out, Suggestion{Value: v})
		}
	}
	return out
}
