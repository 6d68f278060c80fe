package world

import (
	"fmt"
	"sync"
)

// LandClaim marks a protected square area anchored at a block position.
type LandClaim struct {
	LandID  string
	Owner   string
	Anchor  Vec3i
	Radius  int
	Members map[string]bool

	// AllowBreak opens the claim to block removal by non-members.
	AllowBreak bool
}

func (c *LandClaim) contains(pos Vec3i) bool {
	dx := pos.X - c.Anchor.X
	dz := pos.Z - c.Anchor.Z
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	return dx <= c.Radius && dz <= c.Radius
}

func (c *LandClaim) isMember(actorID string) bool {
	if actorID == "" {
		return false
	}
	if c.Owner == actorID {
		return true
	}
	return c.Members[actorID]
}

// ClaimIndex is the one piece of world state readable off the loop:
// the authorization gate queries it from job scheduling goroutines.
// Writes still go through the world loop.
type ClaimIndex struct {
	mu     sync.RWMutex
	nextID int
	claims map[string]*LandClaim
}

func NewClaimIndex() *ClaimIndex {
	return &ClaimIndex{claims: map[string]*LandClaim{}}
}

func (ci *ClaimIndex) Add(c *LandClaim) string {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if c.LandID == "" {
		ci.nextID++
		c.LandID = fmt.Sprintf("L%05d", ci.nextID)
	}
	if c.Members == nil {
		c.Members = map[string]bool{}
	}
	ci.claims[c.LandID] = c
	return c.LandID
}

func (ci *ClaimIndex) Remove(landID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	delete(ci.claims, landID)
}

// AllowsBreak reports whether every claim covering pos permits the
// actor to remove blocks there. Unclaimed ground is always allowed.
func (ci *ClaimIndex) AllowsBreak(actorID string, pos Vec3i) bool {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	for _, c := range ci.claims {
		if !c.contains(pos) {
			continue
		}
		if c.AllowBreak {
			continue
		}
		if !c.isMember(actorID) {
			return false
		}
	}
	return true
}
