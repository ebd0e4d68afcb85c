// Package model holds the pipeline's core data types: the entities named in
// the data model (tenant context, knowledge base, source, document,
// structured document, chunk, draft, pipeline run) shared across every
// component (C1-C8) instead of each package inventing its own shape.
package model

// Role is a tenant member's permission level within a workspace.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// TenantContext identifies the caller behind every pipeline operation.
// OrgID groups workspaces that bill/administer together; WorkspaceID is
// the unit every owned entity is scoped to - cross-workspace reads are
// forbidden everywhere in this module.
type TenantContext struct {
	OrgID       string
	WorkspaceID string
	UserID      string
	Role        Role
}

// CanAdminister reports whether the caller may touch workspace-admin-only
// resources (drafts created by someone else, KB deletion).
func (t TenantContext) CanAdminister() bool {
	return t.Role == RoleOwner || t.Role == RoleAdmin
}
