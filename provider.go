package anvil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	mcnbt "github.com/Tnze/go-mc/nbt"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/df-mc/dragonfly/server/world/chunk"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/google/uuid"
	"github.com/oriumgames/anvil/format"
	"github.com/sirupsen/logrus"
)

// ErrReadOnly is returned by StoreColumn and Save on a read-only provider.
var ErrReadOnly = format.ErrReadOnly

// settingsFile is the name of the settings file in the world directory.
const settingsFile = "settings.dat"

// Config holds the options of a Provider.
type Config struct {
	// Dir is the world directory. Region files are kept in Dir/region,
	// Dir/DIM-1/region and Dir/DIM1/region.
	Dir string
	// Log receives warnings about corrupt chunks and failed background
	// stores. It defaults to the standard logrus logger.
	Log logrus.FieldLogger
	// SettingsCompression is the compression of the settings file.
	SettingsCompression CompressionLevel
	// ReadOnly opens the world for reading only. Stores fail and nothing is
	// written on Close.
	ReadOnly bool
	// JavaBlocks stores Java Edition block states in chunk palettes instead
	// of Bedrock ones, so other Java tools can read the regions.
	JavaBlocks bool
}

// Provider implements world.Provider on top of Anvil region files. Regions
// are opened on first use and kept open until Close. Every region has its own
// lock, so columns of different regions are read and written concurrently.
type Provider struct {
	conf   Config
	log    logrus.FieldLogger
	blocks format.BlockTable
	air    format.BlockID

	mu           sync.RWMutex
	settings     *world.Settings
	playerSpawns map[uuid.UUID]cube.Pos
	dirty        bool

	regionsMu sync.Mutex
	regions   map[regionKey]*regionHandle

	// Background store subsystem.
	queueMu sync.Mutex
	pending map[columnKey]*pendingColumn
	flushMu sync.Mutex
	saveCh  chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
}

type regionKey struct {
	dir string
	pos format.RegionPos
}

type regionHandle struct {
	mu sync.Mutex
	r  *format.Region
}

type columnKey struct {
	dir string
	pos format.ChunkPos
}

type pendingColumn struct {
	chunk    *format.Chunk
	entities mcnbt.RawMessage
}

// New creates a Provider for the world in dir with the default configuration.
func New(dir string) (*Provider, error) {
	return Config{Dir: dir, SettingsCompression: CompressionLevelDefault}.New()
}

// New creates a Provider from the configuration. Missing directories are
// created unless the provider is read-only.
func (conf Config) New() (*Provider, error) {
	if conf.Log == nil {
		conf.Log = logrus.StandardLogger()
	}
	if !conf.ReadOnly {
		if err := os.MkdirAll(conf.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create world directory: %w", err)
		}
	}

	blocks, err := Blocks(conf.JavaBlocks)
	if err != nil {
		return nil, err
	}
	airRID, ok := chunk.StateToRuntimeID("minecraft:air", nil)
	if !ok {
		return nil, fmt.Errorf("no runtime id for minecraft:air")
	}

	p := &Provider{
		conf:         conf,
		log:          conf.Log.WithField("world", conf.Dir),
		blocks:       blocks,
		air:          format.BlockID(airRID),
		settings:     defaultSettings(),
		playerSpawns: make(map[uuid.UUID]cube.Pos),
		regions:      make(map[regionKey]*regionHandle),
		pending:      make(map[columnKey]*pendingColumn),
	}
	if err := p.loadSettings(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return p, nil
}

// Settings returns the world settings.
func (p *Provider) Settings() *world.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// SaveSettings saves the world settings. They are written on Close or Save.
func (p *Provider) SaveSettings(s *world.Settings) {
	p.mu.Lock()
	p.settings = s
	p.dirty = true
	p.mu.Unlock()
}

// LoadPlayerSpawnPosition loads a player's spawn position.
func (p *Provider) LoadPlayerSpawnPosition(id uuid.UUID) (cube.Pos, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.playerSpawns[id]
	return pos, ok, nil
}

// SavePlayerSpawnPosition saves a player's spawn position.
func (p *Provider) SavePlayerSpawnPosition(id uuid.UUID, pos cube.Pos) error {
	p.mu.Lock()
	p.playerSpawns[id] = pos
	p.dirty = true
	p.mu.Unlock()
	return nil
}

// LoadColumn loads a chunk column. Chunks that are not stored, as well as
// chunks that are stored but corrupt, are reported as leveldb.ErrNotFound so
// that the world generates them again. Corrupt chunks are logged.
func (p *Provider) LoadColumn(pos world.ChunkPos, dim world.Dimension) (*chunk.Column, error) {
	dir := p.dimensionDir(dim)
	cp := format.ChunkPos{X: pos[0], Z: pos[1]}

	p.queueMu.Lock()
	pc, ok := p.pending[columnKey{dir: dir, pos: cp}]
	p.queueMu.Unlock()
	if ok {
		return chunkToColumn(pc.chunk, pc.entities, dim.Range())
	}

	h, err := p.region(dir, cp.Region(), false)
	if errors.Is(err, os.ErrNotExist) {
		return nil, leveldb.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	h.mu.Lock()
	c, entities, err := h.r.LoadChunk(cp)
	h.mu.Unlock()
	switch {
	case errors.Is(err, format.ErrChunkNotExist):
		return nil, leveldb.ErrNotFound
	case format.IsCorrupt(err):
		p.log.WithFields(logrus.Fields{"dim": dimensionName(dim), "chunk": cp}).WithError(err).Warn("Discarding unreadable chunk.")
		return nil, leveldb.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("load chunk %v: %w", cp, err)
	}
	return chunkToColumn(c, entities, dim.Range())
}

// StoreColumn stores a chunk column. With background saves enabled, the
// column is converted immediately and written later by the background saver.
func (p *Provider) StoreColumn(pos world.ChunkPos, dim world.Dimension, col *chunk.Column) error {
	if p.conf.ReadOnly {
		return ErrReadOnly
	}
	c, entities, dropped, err := columnToChunk(col, pos, p.air)
	if err != nil {
		return fmt.Errorf("convert column %v: %w", pos, err)
	}
	if dropped > 0 {
		p.log.WithFields(logrus.Fields{"dim": dimensionName(dim), "chunk": c.Pos, "blocks": dropped}).Warn("Dropping blocks outside y=0-255.")
	}

	dir := p.dimensionDir(dim)
	p.queueMu.Lock()
	if ch := p.saveCh; ch != nil {
		p.pending[columnKey{dir: dir, pos: c.Pos}] = &pendingColumn{chunk: c, entities: entities}
		p.queueMu.Unlock()
		// Non-blocking signal: coalesce multiple store requests.
		select {
		case ch <- struct{}{}:
		default:
		}
		return nil
	}
	p.queueMu.Unlock()

	return p.writeChunk(dir, c, entities)
}

// Close flushes pending columns, writes the settings and closes all regions.
func (p *Provider) Close() error {
	p.DisableBackgroundSaves()

	var errs []error
	if err := p.Flush(); err != nil {
		errs = append(errs, err)
	}
	p.mu.Lock()
	if p.dirty && !p.conf.ReadOnly {
		if err := p.saveSettings(); err != nil {
			errs = append(errs, err)
		}
	}
	p.mu.Unlock()

	p.regionsMu.Lock()
	for key, h := range p.regions {
		h.mu.Lock()
		if err := h.r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close region %v: %w", key.pos, err))
		}
		h.mu.Unlock()
	}
	p.regions = make(map[regionKey]*regionHandle)
	p.regionsMu.Unlock()
	return errors.Join(errs...)
}

// Save writes pending columns and the settings immediately.
func (p *Provider) Save() error {
	if p.conf.ReadOnly {
		return ErrReadOnly
	}
	if err := p.Flush(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveSettings()
}

// IsDirty returns whether the settings or player spawns have unsaved changes.
func (p *Provider) IsDirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirty
}

// DimensionChunkCount returns the number of chunks stored for a dimension.
func (p *Provider) DimensionChunkCount(dim world.Dimension) (int, error) {
	dir := p.dimensionDir(dim)
	entries, err := os.ReadDir(filepath.Join(dir, "region"))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("list regions: %w", err)
	}

	count := 0
	for _, e := range entries {
		rp, ok := format.ParseRegionName(e.Name())
		if !ok {
			continue
		}
		h, err := p.region(dir, rp, false)
		if err != nil {
			p.log.WithField("region", rp).WithError(err).Warn("Skipping unreadable region.")
			continue
		}
		h.mu.Lock()
		count += len(h.r.Chunks())
		h.mu.Unlock()
	}
	return count, nil
}

// region returns the open handle of a region, opening the file if needed.
// With create set, a missing file is created.
func (p *Provider) region(dir string, pos format.RegionPos, create bool) (*regionHandle, error) {
	key := regionKey{dir: dir, pos: pos}

	p.regionsMu.Lock()
	defer p.regionsMu.Unlock()
	if h, ok := p.regions[key]; ok {
		return h, nil
	}

	path := format.RegionPath(dir, pos)
	var (
		r   *format.Region
		err error
	)
	switch {
	case p.conf.ReadOnly:
		r, err = format.OpenRegionReadOnly(path, p.blocks)
	case create:
		r, err = format.OpenOrCreateRegion(path, p.blocks)
	default:
		r, err = format.OpenRegion(path, p.blocks)
	}
	if err != nil {
		return nil, err
	}
	h := &regionHandle{r: r}
	p.regions[key] = h
	return h, nil
}

// writeChunk saves a chunk to its region.
func (p *Provider) writeChunk(dir string, c *format.Chunk, entities mcnbt.RawMessage) error {
	h, err := p.region(dir, c.Pos.Region(), true)
	if err != nil {
		return fmt.Errorf("open region %v: %w", c.Pos.Region(), err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.r.SaveChunk(c, entities)
}

// dimensionDir returns the directory holding the regions of a dimension.
func (p *Provider) dimensionDir(dim world.Dimension) string {
	switch dim {
	case world.Nether:
		return filepath.Join(p.conf.Dir, "DIM-1")
	case world.End:
		return filepath.Join(p.conf.Dir, "DIM1")
	default:
		return p.conf.Dir
	}
}

func dimensionName(dim world.Dimension) string {
	switch dim {
	case world.Nether:
		return "nether"
	case world.End:
		return "end"
	default:
		return "overworld"
	}
}

// loadSettings reads the settings file if there is one.
func (p *Provider) loadSettings() error {
	f, err := os.Open(filepath.Join(p.conf.Dir, settingsFile))
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := readSettings(f)
	if err != nil {
		return err
	}
	p.settings, p.playerSpawns = settingsFromData(d)
	return nil
}

// saveSettings writes the settings file. Must be called with p.mu held.
func (p *Provider) saveSettings() error {
	path := filepath.Join(p.conf.Dir, settingsFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := writeSettings(f, settingsToData(p.settings, p.playerSpawns), p.conf.SettingsCompression); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	p.dirty = false
	return nil
}
