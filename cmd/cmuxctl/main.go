// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// cmuxctl is a command-line tool for talking to a running cmux bridge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coder/cmux-sub011/pkg/cmuxclient"
)

var (
	version    = "0.1.0"
	apiURL     = "http://localhost:4590"
	jsonOutput = false
)

func main() {
	if env := os.Getenv("CMUX_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	var filtered []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filtered = append(filtered, arg)
		}
	}

	if len(filtered) < 1 {
		printUsage()
		os.Exit(1)
	}

	c := cmuxclient.New(apiURL, cmuxclient.WithTimeout(60*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd, args := filtered[0], filtered[1:]

	var err error
	switch cmd {
	case "projects":
		err = cmdProjects(ctx, c, args)
	case "workspace":
		err = cmdWorkspace(ctx, c, args)
	case "providers":
		err = cmdProviders(ctx, c, args)
	case "call":
		err = cmdCall(ctx, c, args)
	case "version", "-v", "--version":
		fmt.Printf("cmuxctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`cmuxctl - control a running cmux bridge

Usage:
  cmuxctl [-json] <command> [arguments]

Environment:
  CMUX_API    Base URL of the cmux bridge (default: http://localhost:4590)

Commands:
  projects list
  projects create <path>
  projects remove <path>
  projects branches <path>

  workspace list <projectPath>
  workspace create <projectPath> <name> [trunkBranch]
  workspace remove <workspaceID> [-delete-branch]
  workspace rename <workspaceID> <newName>
  workspace fork <workspaceID> <newName>
  workspace info <workspaceID>
  workspace send <workspaceID> <text> [model]
  workspace interrupt <workspaceID>
  workspace bash <workspaceID> <command>

  providers list
  providers set <name> <apiKey>

  call <channel> [jsonArg...]   invoke any IPC channel directly
  version
  help`)
}

func cmdProjects(ctx context.Context, c *cmuxclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: projects <list|create|remove|branches> [args]")
	}
	switch args[0] {
	case "list":
		return call(ctx, c, "projects.list")
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: projects create <path>")
		}
		return call(ctx, c, "projects.create", args[1])
	case "remove":
		if len(args) < 2 {
			return fmt.Errorf("usage: projects remove <path>")
		}
		return call(ctx, c, "projects.remove", args[1])
	case "branches":
		if len(args) < 2 {
			return fmt.Errorf("usage: projects branches <path>")
		}
		return call(ctx, c, "projects.listBranches", args[1])
	default:
		return fmt.Errorf("unknown projects subcommand: %s", args[0])
	}
}

func cmdWorkspace(ctx context.Context, c *cmuxclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: workspace <list|create|remove|rename|fork|info|send|interrupt|bash> [args]")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		if len(rest) < 1 {
			return fmt.Errorf("usage: workspace list <projectPath>")
		}
		return call(ctx, c, "workspace.list", rest[0])
	case "create":
		if len(rest) < 2 {
			return fmt.Errorf("usage: workspace create <projectPath> <name> [trunkBranch]")
		}
		trunk := ""
		if len(rest) > 2 {
			trunk = rest[2]
		}
		return call(ctx, c, "workspace.create", rest[0], rest[1], trunk)
	case "remove":
		if len(rest) < 1 {
			return fmt.Errorf("usage: workspace remove <workspaceID> [-delete-branch]")
		}
		deleteBranch := len(rest) > 1 && rest[1] == "-delete-branch"
		return call(ctx, c, "workspace.remove", rest[0], deleteBranch)
	case "rename":
		if len(rest) < 2 {
			return fmt.Errorf("usage: workspace rename <workspaceID> <newName>")
		}
		return call(ctx, c, "workspace.rename", rest[0], rest[1])
	case "fork":
		if len(rest) < 2 {
			return fmt.Errorf("usage: workspace fork <workspaceID> <newName>")
		}
		return call(ctx, c, "workspace.fork", rest[0], rest[1])
	case "info":
		if len(rest) < 1 {
			return fmt.Errorf("usage: workspace info <workspaceID>")
		}
		return call(ctx, c, "workspace.getInfo", rest[0])
	case "send":
		if len(rest) < 2 {
			return fmt.Errorf("usage: workspace send <workspaceID> <text> [model]")
		}
		model := ""
		if len(rest) > 2 {
			model = rest[2]
		}
		return call(ctx, c, "workspace.sendMessage", rest[0], rest[1], map[string]interface{}{"model": model})
	case "interrupt":
		if len(rest) < 1 {
			return fmt.Errorf("usage: workspace interrupt <workspaceID>")
		}
		return call(ctx, c, "workspace.interruptStream", rest[0])
	case "bash":
		if len(rest) < 2 {
			return fmt.Errorf("usage: workspace bash <workspaceID> <command>")
		}
		return call(ctx, c, "workspace.executeBash", rest[0], strings.Join(rest[1:], " "))
	default:
		return fmt.Errorf("unknown workspace subcommand: %s", sub)
	}
}

func cmdProviders(ctx context.Context, c *cmuxclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: providers <list|set> [args]")
	}
	switch args[0] {
	case "list":
		return call(ctx, c, "providers.list")
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: providers set <name> <apiKey>")
		}
		return call(ctx, c, "providers.setConfig", args[1], args[2])
	default:
		return fmt.Errorf("unknown providers subcommand: %s", args[0])
	}
}

// cmdCall invokes an arbitrary IPC channel, parsing each remaining argument
// as JSON when possible and falling back to a plain string otherwise.
func cmdCall(ctx context.Context, c *cmuxclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: call <channel> [jsonArg...]")
	}
	channel := args[0]
	var callArgs []interface{}
	for _, raw := range args[1:] {
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		callArgs = append(callArgs, v)
	}
	return call(ctx, c, channel, callArgs...)
}

func call(ctx context.Context, c *cmuxclient.Client, channel string, args ...interface{}) error {
	data, err := c.Call(ctx, channel, args...)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		fmt.Println("{}")
		return nil
	}
	var pretty interface{}
	if err := json.Unmarshal(data, &pretty); err != nil {
		fmt.Println(string(data))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(string(out))
	return nil
}
