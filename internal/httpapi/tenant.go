package httpapi

import (
	"net/http"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// principalFrom extracts the authenticated TenantContext an upstream
// gateway is assumed to have already attached to the request. Real
// deployments terminate auth in a reverse proxy ahead of this service
// and forward identity as headers; this package trusts them verbatim
// and only enforces workspace_id scoping downstream in Draft Store /
// Catalog calls.
func principalFrom(r *http.Request) (model.TenantContext, error) {
	workspaceID := r.Header.Get("X-Workspace-ID")
	if workspaceID == "" {
		return model.TenantContext{}, kberr.Newf(kberr.InvalidArgument, "X-Workspace-ID header is required")
	}
	return model.TenantContext{
		OrgID:       r.Header.Get("X-Org-ID"),
		WorkspaceID: workspaceID,
		UserID:      r.Header.Get("X-User-ID"),
		Role:        model.Role(r.Header.Get("X-Role")),
	}, nil
}
