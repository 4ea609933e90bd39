// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridge exposes WorkspaceManager and AgentSession operations to
// clients over HTTP+websocket (spec.md §6's "Control API"): request/response
// calls mapped onto `POST /ipc/<channel>`, and chat/metadata subscriptions
// mapped onto websocket channels.
package bridge

import (
	"encoding/json"
	"net/http"
)

// ipcResponse is the `{success, data} | {success:false, error}` envelope
// spec.md §6 requires for every `POST /ipc/<channel>` call.
type ipcResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeOK(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ipcResponse{Success: true, Data: data})
}

func writeFail(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ipcResponse{Success: false, Error: err.Error()})
}
