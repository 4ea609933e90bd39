// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/coder/cmux-sub011/internal/bridge"
	"github.com/coder/cmux-sub011/internal/extmeta"
)

// metadataAdapter implements bridge.MetadataReader over extmeta.Store,
// translating its Record type into bridge's transport-facing shape.
type metadataAdapter struct{ store *extmeta.Store }

func (a metadataAdapter) GetMetadata(workspaceID string) (bridge.WorkspaceMetadataRecord, bool) {
	rec, found := a.store.GetMetadata(workspaceID)
	if !found {
		return bridge.WorkspaceMetadataRecord{}, false
	}
	return bridge.WorkspaceMetadataRecord{
		LastUsedAt:  rec.LastUsedAt,
		Streaming:   rec.Streaming,
		StreamModel: rec.StreamModel,
	}, true
}
