// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter builds the HTTP binding of the control API: `POST
// /ipc/{channel}` for request/response ops and `GET /ws` for the
// workspace:chat / workspace:metadata subscription channels.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	r.HandleFunc("/ipc/{channel}", ipcHandler(deps)).Methods(http.MethodPost)
	r.HandleFunc("/ws", wsHandler(deps)).Methods(http.MethodGet)

	return r
}
