// Package vanilla provides a format.BlockTable over the block states known to
// go-mc. Block ids handed out are go-mc state ids.
//
// Java Edition 1.13 packs block states across word boundaries. Sections it
// wrote only decode when they use 4 or 8 bits per index.
package vanilla

import (
	"bytes"
	"fmt"
	"maps"
	"sync"

	"github.com/Tnze/go-mc/level/block"
	"github.com/Tnze/go-mc/nbt"
	"github.com/oriumgames/anvil/format"
)

// Table is a format.BlockTable backed by the go-mc block state list. The zero
// value is ready to use.
type Table struct {
	mu    sync.RWMutex
	props map[format.BlockID]map[string]string
}

// Blocks is the shared vanilla block table.
var Blocks = &Table{}

// Resolve implements format.BlockTable. Properties not given keep the default
// value of the block; unknown property names or values do not resolve.
func (t *Table) Resolve(name string, properties map[string]string) (format.BlockID, bool) {
	b, ok := block.FromID[name]
	if !ok {
		return 0, false
	}
	if len(properties) > 0 {
		raw, err := propertiesToNBT(properties)
		if err != nil {
			return 0, false
		}
		if err := raw.Unmarshal(&b); err != nil {
			return 0, false
		}
	}
	s, ok := block.ToStateID[b]
	if !ok {
		return 0, false
	}
	id := format.BlockID(s)

	// Decoding ignores names the block does not have, so check the state
	// carries every requested property.
	_, got, _ := t.Describe(id)
	for k, v := range properties {
		if got[k] != v {
			return 0, false
		}
	}
	return id, true
}

// Describe implements format.BlockTable.
func (t *Table) Describe(id format.BlockID) (string, map[string]string, bool) {
	if int(id) >= len(block.StateList) {
		return "", nil, false
	}
	b := block.StateList[id]

	t.mu.RLock()
	props, ok := t.props[id]
	t.mu.RUnlock()
	if !ok {
		var err error
		if props, err = blockProperties(b); err != nil {
			return "", nil, false
		}
		t.mu.Lock()
		if t.props == nil {
			t.props = make(map[format.BlockID]map[string]string)
		}
		t.props[id] = props
		t.mu.Unlock()
	}
	return b.ID(), maps.Clone(props), true
}

// IsAir reports whether id is one of the air blocks.
func IsAir(id format.BlockID) bool {
	if int(id) >= len(block.StateList) {
		return false
	}
	return block.IsAir(block.StateID(id))
}

// Air is the id of minecraft:air.
func Air() format.BlockID {
	return format.BlockID(block.ToStateID[block.Air{}])
}

func blockProperties(b block.Block) (map[string]string, error) {
	var buf bytes.Buffer
	if err := nbt.NewEncoder(&buf).Encode(b, ""); err != nil {
		return nil, fmt.Errorf("encode %s: %w", b.ID(), err)
	}
	var props map[string]string
	if _, err := nbt.NewDecoder(&buf).Decode(&props); err != nil {
		return nil, fmt.Errorf("decode %s properties: %w", b.ID(), err)
	}
	if len(props) == 0 {
		return nil, nil
	}
	return props, nil
}

func propertiesToNBT(properties map[string]string) (nbt.RawMessage, error) {
	data, err := nbt.Marshal(properties)
	if err != nil {
		return nbt.RawMessage{}, err
	}
	var raw nbt.RawMessage
	err = nbt.Unmarshal(data, &raw)
	return raw, err
}
