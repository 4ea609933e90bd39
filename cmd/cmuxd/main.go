// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command cmuxd runs the cmux bridge: the HTTP+WS control API that exposes
// project/workspace management and agent chat to clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/coder/cmux-sub011/internal/app"
)

var version = "0.1.0"

func main() {
	var (
		host        string
		port        int
		showVersion bool
		debug       bool
	)

	flag.StringVar(&host, "host", envOr("HOST", "127.0.0.1"), "bridge HTTP host")
	flag.IntVar(&port, "port", envPortOr("PORT", 4590), "bridge HTTP port")
	flag.BoolVar(&showVersion, "version", false, "show version")
	flag.BoolVar(&showVersion, "v", false, "show version (short)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("cmuxd %s\n", version)
		return
	}

	application, err := app.New(app.Options{
		Host:    host,
		Port:    port,
		Debug:   debug,
		Version: version,
	})
	if err != nil {
		log.Fatalf("cmuxd: failed to create app: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("cmuxd: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envPortOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
