package world

import "sort"

type Chunk struct {
	CX, CZ int
	// Blocks holds a full 16x16 column span, minY..maxY-1, x fastest,
	// then z, then level.
	Blocks []uint16

	minY int
	maxY int // exclusive
}

func (c *Chunk) index(x, y, z int) int {
	return x + z*16 + (y-c.minY)*256
}

func (c *Chunk) Get(x, y, z int) uint16 {
	if y < c.minY || y >= c.maxY {
		return Air
	}
	return c.Blocks[c.index(x, y, z)]
}

func (c *Chunk) Set(x, y, z int, b uint16) {
	if y < c.minY || y >= c.maxY {
		return
	}
	c.Blocks[c.index(x, y, z)] = b
}

type WorldGen struct {
	Seed      int64
	MinY      int
	MaxY      int // exclusive
	BoundaryR int // blocks
}

type ChunkStore struct {
	gen WorldGen
	// Accessed only from the world loop goroutine.
	chunks map[ChunkKey]*Chunk
}

func NewChunkStore(gen WorldGen) *ChunkStore {
	return &ChunkStore{
		gen:    gen,
		chunks: map[ChunkKey]*Chunk{},
	}
}

func (s *ChunkStore) MinY() int { return s.gen.MinY }
func (s *ChunkStore) MaxY() int { return s.gen.MaxY }

func (s *ChunkStore) inBounds(x, z int) bool {
	if s.gen.BoundaryR > 0 {
		if x < -s.gen.BoundaryR || x > s.gen.BoundaryR || z < -s.gen.BoundaryR || z > s.gen.BoundaryR {
			return false
		}
	}
	return true
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

func (s *ChunkStore) GetBlock(pos Vec3i) uint16 {
	if pos.Y < s.gen.MinY || pos.Y >= s.gen.MaxY {
		return Air
	}
	if !s.inBounds(pos.X, pos.Z) {
		return Air
	}
	ch := s.Chunk(ChunkOf(pos.X, pos.Z))
	return ch.Get(mod(pos.X, 16), pos.Y, mod(pos.Z, 16))
}

func (s *ChunkStore) SetBlock(pos Vec3i, b uint16) {
	if pos.Y < s.gen.MinY || pos.Y >= s.gen.MaxY {
		return
	}
	if !s.inBounds(pos.X, pos.Z) {
		return
	}
	ch := s.Chunk(ChunkOf(pos.X, pos.Z))
	ch.Set(mod(pos.X, 16), pos.Y, mod(pos.Z, 16), b)
}

// Chunk returns the chunk for a key, generating it on first access.
func (s *ChunkStore) Chunk(k ChunkKey) *Chunk {
	if ch, ok := s.chunks[k]; ok {
		return ch
	}
	ch := &Chunk{
		CX:     k.CX,
		CZ:     k.CZ,
		Blocks: make([]uint16, 256*(s.gen.MaxY-s.gen.MinY)),
		minY:   s.gen.MinY,
		maxY:   s.gen.MaxY,
	}
	s.generateChunk(ch)
	s.chunks[k] = ch
	return ch
}

func (s *ChunkStore) generateChunk(ch *Chunk) {
	for z := 0; z < 16; z++ {
		for x := 0; x < 16; x++ {
			wx := ch.CX*16 + x
			wz := ch.CZ*16 + z

			// Column fill: bedrock floor, stone body with sprinkled
			// ores, a few surface blocks, air above.
			surface := 60 + int(hash2(s.gen.Seed, wx, wz)%16)
			for y := s.gen.MinY; y < s.gen.MaxY; y++ {
				var b uint16
				switch {
				case y == s.gen.MinY:
					b = Bedrock
				case y < surface-4:
					roll := hash3(s.gen.Seed, wx, y, wz) % 1000
					switch {
					case roll < 5:
						b = CrystalOre
					case roll < 20:
						b = IronOre
					case roll < 40:
						b = CopperOre
					case roll < 70:
						b = CoalOre
					case roll < 90:
						b = Gravel
					default:
						b = Stone
					}
				case y < surface:
					b = Dirt
				case y == surface:
					if hash2(s.gen.Seed, wx, wz)%7 == 0 {
						b = Log
					} else if hash2(s.gen.Seed, wz, wx)%5 == 0 {
						b = Sand
					} else {
						b = Dirt
					}
				default:
					b = Air
				}
				ch.Blocks[ch.index(x, y, z)] = b
			}
		}
	}
}

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
