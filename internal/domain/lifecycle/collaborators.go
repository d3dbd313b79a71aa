package lifecycle

import (
	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
)

// CapabilityChecker decides whether an actor may approve or reject a task.
// The engine treats the answer as opaque.
type CapabilityChecker interface {
	CanApprove(actor entities.Actor, task *entities.Task) bool
}

// EvidenceClassifier tells approval evidence apart from other attachments.
type EvidenceClassifier interface {
	IsApprovalEvidence(attachment entities.Attachment) bool
}

// DependencyView is a read-only lookup of prerequisite task statuses.
type DependencyView interface {
	StatusOf(taskID uuid.UUID) (entities.TaskStatus, bool)
}

// RoleCapability grants approval to a fixed set of roles.
type RoleCapability struct {
	Roles []entities.UserRole
}

// DefaultApproverRoles are the roles allowed to sign off when nothing else is configured.
var DefaultApproverRoles = []entities.UserRole{
	entities.UserRoleAdmin,
	entities.UserRoleProjectManager,
	entities.UserRoleTeamLead,
}

func (c RoleCapability) CanApprove(actor entities.Actor, _ *entities.Task) bool {
	for _, r := range c.Roles {
		if actor.Role == r {
			return true
		}
	}
	return false
}

// KindEvidenceClassifier classifies by the attachment's kind tag.
type KindEvidenceClassifier struct{}

func (KindEvidenceClassifier) IsApprovalEvidence(a entities.Attachment) bool {
	return a.Kind == entities.AttachmentKindApprovalEvidence
}

// DependencyStatuses is an in-memory DependencyView.
type DependencyStatuses map[uuid.UUID]entities.TaskStatus

func (m DependencyStatuses) StatusOf(id uuid.UUID) (entities.TaskStatus, bool) {
	s, ok := m[id]
	return s, ok
}

// blockingDependencies lists the prerequisites that are not approved. A
// prerequisite the view cannot resolve counts as blocking.
func blockingDependencies(t *entities.Task, view DependencyView) []uuid.UUID {
	var blocking []uuid.UUID
	for _, dep := range t.Dependencies {
		if view == nil {
			blocking = append(blocking, dep)
			continue
		}
		status, ok := view.StatusOf(dep)
		if !ok || status != entities.TaskStatusApproved {
			blocking = append(blocking, dep)
		}
	}
	return blocking
}
