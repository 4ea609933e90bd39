// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// op is one control-API request/response operation (spec.md §6's
// `projects.*`, `workspace.*`, `providers.*` namespaces).
type op func(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error)

var ops = map[string]op{
	"projects.create":       opProjectsCreate,
	"projects.remove":       opProjectsRemove,
	"projects.list":         opProjectsList,
	"projects.listBranches": opProjectsListBranches,

	"workspace.create":                opWorkspaceCreate,
	"workspace.remove":                opWorkspaceRemove,
	"workspace.rename":                opWorkspaceRename,
	"workspace.fork":                  opWorkspaceFork,
	"workspace.list":                  opWorkspaceList,
	"workspace.getInfo":               opWorkspaceGetInfo,
	"workspace.sendMessage":           opWorkspaceSendMessage,
	"workspace.resumeStream":          opWorkspaceResumeStream,
	"workspace.respondToConfirmation": opWorkspaceRespondToConfirmation,
	"workspace.interruptStream":       opWorkspaceInterruptStream,
	"workspace.executeBash":           opWorkspaceExecuteBash,
	"workspace.truncateHistory":       opWorkspaceTruncateHistory,

	"providers.setConfig": opProvidersSetConfig,
	"providers.list":      opProvidersList,
}

// ipcRequest is the body of every `POST /ipc/<channel>` call.
type ipcRequest struct {
	Args []json.RawMessage `json:"args"`
}

// ipcHandler dispatches POST /ipc/{channel} to the matching op.
func ipcHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := mux.Vars(r)["channel"]
		handler, known := ops[channel]
		if !known {
			writeFail(w, http.StatusNotFound, errUnknownChannel(channel))
			return
		}

		var req ipcRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		data, err := handler(r.Context(), deps, req.Args)
		if err != nil {
			writeFail(w, http.StatusOK, err)
			return
		}
		writeOK(w, data)
	}
}

func errUnknownChannel(channel string) error {
	return &unknownChannelError{channel: channel}
}

type unknownChannelError struct{ channel string }

func (e *unknownChannelError) Error() string { return "bridge: unknown channel " + e.channel }
