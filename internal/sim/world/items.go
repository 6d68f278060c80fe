package world

import "fmt"

// ItemEntity is a transient dropped-item occupant of a chunk. Sessions
// are not entities, so clearing a chunk's occupants never touches a
// connected owner.
type ItemEntity struct {
	EntityID string
	Pos      Vec3i
	Item     string
	Count    int
}

// SpawnItemEntity registers a dropped item. Loop goroutine only.
func (w *World) SpawnItemEntity(pos Vec3i, item string, count int) *ItemEntity {
	w.nextItemNum++
	e := &ItemEntity{
		EntityID: fmt.Sprintf("I%06d", w.nextItemNum),
		Pos:      pos,
		Item:     item,
		Count:    count,
	}
	k := ChunkOf(pos.X, pos.Z)
	w.items[k] = append(w.items[k], e)
	return e
}

// removeChunkOccupants drops every item entity in the chunk and
// returns how many were removed. Loop goroutine only.
func (w *World) removeChunkOccupants(k ChunkKey) int {
	n := len(w.items[k])
	if n > 0 {
		delete(w.items, k)
	}
	return n
}
