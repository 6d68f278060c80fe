package world

// Built-in block palette. The host's full palette is not needed here:
// the sweeper only distinguishes air, the indestructible floor, and
// everything else (named for audit breakdowns).
const (
	Air uint16 = iota
	Bedrock
	Stone
	Dirt
	Sand
	Gravel
	Log
	CoalOre
	IronOre
	CopperOre
	CrystalOre
)

var blockNames = map[uint16]string{
	Air:        "AIR",
	Bedrock:    "BEDROCK",
	Stone:      "STONE",
	Dirt:       "DIRT",
	Sand:       "SAND",
	Gravel:     "GRAVEL",
	Log:        "LOG",
	CoalOre:    "COAL_ORE",
	IronOre:    "IRON_ORE",
	CopperOre:  "COPPER_ORE",
	CrystalOre: "CRYSTAL_ORE",
}

func BlockName(id uint16) string {
	if n, ok := blockNames[id]; ok {
		return n
	}
	return "UNKNOWN"
}
