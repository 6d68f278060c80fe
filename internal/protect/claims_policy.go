package protect

import "voxelsweep.dev/internal/sim/world"

// ClaimsPolicy vetoes mutation inside land claims the actor is not
// allowed to break in.
type ClaimsPolicy struct {
	idx *world.ClaimIndex
}

func NewClaimsPolicy(idx *world.ClaimIndex) *ClaimsPolicy {
	return &ClaimsPolicy{idx: idx}
}

func (p *ClaimsPolicy) Name() string { return "claims" }

func (p *ClaimsPolicy) MayMutate(actorID string, loc world.Vec3i) bool {
	if p.idx == nil {
		return false
	}
	return p.idx.AllowsBreak(actorID, loc)
}
