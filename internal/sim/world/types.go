package world

type Vec3i struct{ X, Y, Z int }

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

type ChunkKey struct {
	CX int
	CZ int
}

// ChunkOf returns the chunk containing a block-space coordinate.
func ChunkOf(x, z int) ChunkKey {
	return ChunkKey{CX: floorDiv(x, 16), CZ: floorDiv(z, 16)}
}

// Center returns the representative block-space location of a chunk,
// used for authorization checks and audit summaries.
func (k ChunkKey) Center(y int) Vec3i {
	return Vec3i{X: k.CX<<4 + 8, Y: y, Z: k.CZ<<4 + 8}
}
