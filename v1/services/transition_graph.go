package services

import "github.com/clubware/membership-backend/v1/models"

// transitionGraph maps each member status to the set of statuses directly
// reachable from it. Loaded once at process start, never mutated at runtime.
// LEFT is not terminal: the re-entry edges exist specifically so a former
// member can rejoin without a fresh member record.
var transitionGraph = map[models.MemberStatus][]models.MemberStatus{
	models.StatusPending:   {models.StatusProbation, models.StatusActive, models.StatusLeft},
	models.StatusProbation: {models.StatusActive, models.StatusSuspended, models.StatusLeft},
	models.StatusActive:    {models.StatusDormant, models.StatusSuspended, models.StatusLeft},
	models.StatusDormant:   {models.StatusActive, models.StatusSuspended, models.StatusLeft},
	models.StatusSuspended: {models.StatusActive, models.StatusDormant, models.StatusLeft},
	models.StatusLeft:      {models.StatusPending, models.StatusProbation, models.StatusActive},
}

// AllowedTransitions returns the statuses directly reachable from the given
// status. The returned slice is a copy; callers may not mutate the graph.
func AllowedTransitions(from models.MemberStatus) []models.MemberStatus {
	targets := transitionGraph[from]
	out := make([]models.MemberStatus, len(targets))
	copy(out, targets)
	return out
}

// IsTransitionAllowed reports whether the move from one status to another is
// legal. A self-transition is always allowed: it carries no status change and
// exists purely as an audit marker.
func IsTransitionAllowed(from, to models.MemberStatus) bool {
	if from == to {
		return true
	}
	for _, target := range transitionGraph[from] {
		if target == to {
			return true
		}
	}
	return false
}
