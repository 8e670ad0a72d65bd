package format

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// BlockID is a global block state id handed out by a BlockTable.
type BlockID uint32

// BlockTable maps block identifiers with their property maps to global block
// state ids and back. Implementations must be safe for concurrent use.
type BlockTable interface {
	// Resolve returns the id of the block state with the given identifier and
	// properties. ok is false if no such state exists.
	Resolve(name string, properties map[string]string) (id BlockID, ok bool)
	// Describe returns the identifier and properties of a block state id.
	Describe(id BlockID) (name string, properties map[string]string, ok bool)
}

// Registry is an in-memory BlockTable. States are assigned ids in the order
// they are registered. The zero value is ready to use and has no states.
type Registry struct {
	mu     sync.RWMutex
	states []registryState
	ids    map[string]BlockID
}

type registryState struct {
	name       string
	properties map[string]string
}

// NewRegistry returns a Registry that has minecraft:air registered as id 0.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register("minecraft:air", nil)
	return r
}

// Register adds a block state and returns its id. Registering a state twice
// returns the existing id.
func (r *Registry) Register(name string, properties map[string]string) BlockID {
	key := stateKey(name, properties)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[key]; ok {
		return id
	}
	if r.ids == nil {
		r.ids = make(map[string]BlockID)
	}
	id := BlockID(len(r.states))
	r.states = append(r.states, registryState{name: name, properties: maps.Clone(properties)})
	r.ids[key] = id
	return id
}

// Resolve implements BlockTable.
func (r *Registry) Resolve(name string, properties map[string]string) (BlockID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[stateKey(name, properties)]
	return id, ok
}

// Describe implements BlockTable.
func (r *Registry) Describe(id BlockID) (string, map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.states) {
		return "", nil, false
	}
	s := r.states[id]
	return s.name, maps.Clone(s.properties), true
}

// Len returns the number of registered states.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// stateKey builds a canonical key for a state, with properties sorted by name.
func stateKey(name string, properties map[string]string) string {
	if len(properties) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('[')
	for i, k := range slices.Sorted(maps.Keys(properties)) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(properties[k])
	}
	b.WriteByte(']')
	return b.String()
}

// blockClass is the heightmap relevant classification of a block state.
type blockClass uint8

const (
	classAir blockClass = iota
	classSolid
	classLeaves
	classFluid
	// classNonBlocking is a block that is not air but does not block motion,
	// like grass or torches.
	classNonBlocking
)

// nonBlocking lists identifier fragments of blocks that do not block motion.
var nonBlocking = []string{
	"grass", "fern", "flower", "torch", "sapling", "mushroom", "rail", "button",
	"pressure_plate", "sign", "banner", "carpet", "snow", "vine", "tulip", "dandelion",
	"poppy", "orchid", "allium", "bluet", "daisy", "dead_bush", "kelp", "seagrass",
	"wheat", "carrots", "potatoes", "beetroots", "sugar_cane", "redstone_wire", "lever",
	"tripwire", "cobweb", "lily_pad", "ladder", "fire",
}

// classify derives a blockClass from a block identifier.
func classify(name string) blockClass {
	name = strings.TrimPrefix(name, "minecraft:")
	switch name {
	case "air", "cave_air", "void_air", "":
		return classAir
	case "water", "lava", "flowing_water", "flowing_lava", "bubble_column":
		return classFluid
	case "grass_block", "snow_block", "mushroom_stem", "red_mushroom_block", "brown_mushroom_block":
		return classSolid
	}
	if strings.HasSuffix(name, "leaves") || strings.HasPrefix(name, "leaves") {
		return classLeaves
	}
	for _, frag := range nonBlocking {
		if strings.Contains(name, frag) {
			return classNonBlocking
		}
	}
	return classSolid
}
