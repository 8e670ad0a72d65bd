package anvil

import (
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/df-mc/dragonfly/server/world/chunk"
	"github.com/oriumgames/anvil/format"
	"github.com/oriumgames/crocon"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
)

// JavaVersion is the Java Edition version whose block states are written in
// Java mode.
const JavaVersion = "1.13.2"

// Blocks returns the block table a Provider uses to read and write palettes:
// Java Edition states if java is set, Bedrock states otherwise. Ids handed out
// are dragonfly block runtime ids.
func Blocks(java bool) (format.BlockTable, error) {
	if java {
		return newJavaTable()
	}
	return &runtimeTable{}, nil
}

// runtimeTable is a format.BlockTable whose ids are dragonfly block runtime
// ids. Palette entries hold Bedrock block names and states; state values are
// stored as strings and parsed back into the types dragonfly expects.
type runtimeTable struct {
	resolved sync.Map // string -> format.BlockID
}

// Resolve implements format.BlockTable.
func (t *runtimeTable) Resolve(name string, properties map[string]string) (format.BlockID, bool) {
	key := stateKey(name, properties)
	if id, ok := t.resolved.Load(key); ok {
		return id.(format.BlockID), true
	}
	rid, ok := chunk.StateToRuntimeID(name, parseStates(properties))
	if !ok {
		// A string state whose value looks like a number or boolean.
		rid, ok = chunk.StateToRuntimeID(name, stringStates(properties))
	}
	if !ok {
		return 0, false
	}
	t.resolved.Store(key, format.BlockID(rid))
	return format.BlockID(rid), true
}

// Describe implements format.BlockTable.
func (t *runtimeTable) Describe(id format.BlockID) (string, map[string]string, bool) {
	name, states, ok := chunk.RuntimeIDToState(uint32(id))
	if !ok {
		return "", nil, false
	}
	return name, formatStates(states), true
}

// javaTable is a format.BlockTable whose ids are dragonfly block runtime ids
// but whose palette entries are Java Edition block states. States are
// translated through crocon in both directions and cached.
type javaTable struct {
	conv    *crocon.Converter
	runtime runtimeTable

	mu        sync.RWMutex
	described map[format.BlockID]javaState
	resolved  map[string]format.BlockID
}

type javaState struct {
	name       string
	properties map[string]string
}

func newJavaTable() (*javaTable, error) {
	conv, err := crocon.NewConverter()
	if err != nil {
		return nil, fmt.Errorf("create block converter: %w", err)
	}
	return &javaTable{
		conv:      conv,
		described: make(map[format.BlockID]javaState),
		resolved:  make(map[string]format.BlockID),
	}, nil
}

// Resolve implements format.BlockTable.
func (t *javaTable) Resolve(name string, properties map[string]string) (format.BlockID, bool) {
	key := stateKey(name, properties)
	t.mu.RLock()
	id, ok := t.resolved[key]
	t.mu.RUnlock()
	if ok {
		return id, true
	}

	states := make(map[string]any, len(properties))
	for k, v := range properties {
		states[k] = v
	}
	b, err := t.conv.ConvertBlock(crocon.BlockRequest{
		ConversionRequest: crocon.ConversionRequest{
			FromVersion: JavaVersion,
			ToVersion:   protocol.CurrentVersion,
			FromEdition: crocon.JavaEdition,
			ToEdition:   crocon.BedrockEdition,
		},
		Block: crocon.Block{ID: name, States: states},
	})
	if err != nil {
		return 0, false
	}
	rid, ok := chunk.StateToRuntimeID(b.ID, b.States)
	if !ok {
		return 0, false
	}

	id = format.BlockID(rid)
	t.mu.Lock()
	t.resolved[key] = id
	t.mu.Unlock()
	return id, true
}

// Describe implements format.BlockTable.
func (t *javaTable) Describe(id format.BlockID) (string, map[string]string, bool) {
	t.mu.RLock()
	s, ok := t.described[id]
	t.mu.RUnlock()
	if ok {
		return s.name, maps.Clone(s.properties), true
	}

	name, states, ok := chunk.RuntimeIDToState(uint32(id))
	if !ok {
		return "", nil, false
	}
	b, err := t.conv.ConvertBlock(crocon.BlockRequest{
		ConversionRequest: crocon.ConversionRequest{
			FromVersion: protocol.CurrentVersion,
			ToVersion:   JavaVersion,
			FromEdition: crocon.BedrockEdition,
			ToEdition:   crocon.JavaEdition,
		},
		Block: crocon.Block{ID: name, States: states},
	})
	if err != nil {
		return "", nil, false
	}

	s = javaState{name: b.ID, properties: formatStates(b.States)}
	t.mu.Lock()
	t.described[id] = s
	t.mu.Unlock()
	return s.name, maps.Clone(s.properties), true
}

// formatStates converts block states to the string map stored in palettes.
// Bedrock boolean states are bytes and are written as true or false.
func formatStates(states map[string]any) map[string]string {
	if len(states) == 0 {
		return nil
	}
	out := make(map[string]string, len(states))
	for k, v := range states {
		switch v := v.(type) {
		case string:
			out[k] = v
		case uint8:
			out[k] = strconv.FormatBool(v != 0)
		case bool:
			out[k] = strconv.FormatBool(v)
		case int32:
			out[k] = strconv.FormatInt(int64(v), 10)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// parseStates is the inverse of formatStates.
func parseStates(properties map[string]string) map[string]any {
	out := make(map[string]any, len(properties))
	for k, v := range properties {
		switch v {
		case "true":
			out[k] = uint8(1)
		case "false":
			out[k] = uint8(0)
		default:
			if n, err := strconv.ParseInt(v, 10, 32); err == nil {
				out[k] = int32(n)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

func stringStates(properties map[string]string) map[string]any {
	out := make(map[string]any, len(properties))
	for k, v := range properties {
		out[k] = v
	}
	return out
}

// stateKey builds a cache key for a block state, with properties in sorted
// order.
func stateKey(name string, properties map[string]string) string {
	if len(properties) == 0 {
		return name
	}
	return fmt.Sprint(name, properties)
}
