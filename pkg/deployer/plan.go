package deployer

import (
	"errors"
	"sort"

	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"

	"github.com/unbasical/webship/pkg/artifact"
	"github.com/unbasical/webship/pkg/store"
)

// Action is the per-path operation of a deploy plan.
type Action string

const (
	ActionUpload Action = "upload"
	ActionSkip   Action = "skip"
	ActionDelete Action = "delete"
)

// PlannedAction is one (path, action) pair of a plan.
type PlannedAction struct {
	Path   string        `json:"path"`
	Action Action        `json:"action"`
	Digest digest.Digest `json:"digest,omitempty"`
}

// Plan is the set of actions that turns the remote state into the artifact set.
// It is derived, never stored, and its actions are sorted by kind
// (uploads, skips, deletes) and path.
type Plan struct {
	Actions []PlannedAction
}

// Uploads returns the planned upload actions.
func (p *Plan) Uploads() []PlannedAction {
	return p.filter(ActionUpload)
}

// Skips returns the planned skip actions.
func (p *Plan) Skips() []PlannedAction {
	return p.filter(ActionSkip)
}

// Deletes returns the planned delete actions.
func (p *Plan) Deletes() []PlannedAction {
	return p.filter(ActionDelete)
}

// IsNoop reports whether the plan contains no upload or delete action.
func (p *Plan) IsNoop() bool {
	return len(p.Uploads()) == 0 && len(p.Deletes()) == 0
}

func (p *Plan) filter(action Action) []PlannedAction {
	return lo.Filter(p.Actions, func(a PlannedAction, _ int) bool {
		return a.Action == action
	})
}

// ComputePlan diffs the artifact set against the remote state.
// A path is uploaded if it is absent from the remote state or its digest
// differs, skipped if the digests match, and deleted if it only exists
// remotely. The function is pure and deterministic: identical inputs yield
// identical plans.
func ComputePlan(set *artifact.Set, remote store.RemoteState) (*Plan, error) {
	if set == nil {
		return nil, errors.New("nil artifact set")
	}
	var actions []PlannedAction
	for _, p := range set.Paths() {
		a, _ := set.Get(p)
		action := ActionUpload
		if remoteDigest, ok := remote[p]; ok && remoteDigest == a.Digest {
			action = ActionSkip
		}
		actions = append(actions, PlannedAction{Path: p, Action: action, Digest: a.Digest})
	}
	remoteOnly := lo.Filter(lo.Keys(remote), func(p string, _ int) bool {
		_, ok := set.Get(p)
		return !ok
	})
	sort.Strings(remoteOnly)
	for _, p := range remoteOnly {
		actions = append(actions, PlannedAction{Path: p, Action: ActionDelete, Digest: remote[p]})
	}
	return &Plan{Actions: actions}, nil
}
