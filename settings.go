package anvil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

const (
	// settingsMagic opens every settings file: "ANVS".
	settingsMagic uint32 = 0x414e5653
	// settingsVersion is the current settings file version.
	settingsVersion int16 = 1

	settingsRaw  uint8 = 0
	settingsZstd uint8 = 1
)

// CompressionLevel represents the compression level for the settings file.
type CompressionLevel int

const (
	// CompressionLevelNone disables compression.
	CompressionLevelNone CompressionLevel = iota
	// CompressionLevelFast uses the fastest zstd level.
	CompressionLevelFast
	// CompressionLevelDefault uses the default zstd level.
	CompressionLevelDefault
	// CompressionLevelBest uses the best zstd level.
	CompressionLevelBest
)

func (l CompressionLevel) zstdLevel() zstd.EncoderLevel {
	switch l {
	case CompressionLevelFast:
		return zstd.SpeedFastest
	case CompressionLevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// levelData is the stored form of the world settings and player spawns.
type levelData struct {
	Name            string        `nbt:"LevelName"`
	SpawnX          int32         `nbt:"SpawnX"`
	SpawnY          int32         `nbt:"SpawnY"`
	SpawnZ          int32         `nbt:"SpawnZ"`
	Time            int64         `nbt:"Time"`
	TimeCycle       bool          `nbt:"TimeCycle"`
	RainTime        int64         `nbt:"RainTime"`
	Raining         bool          `nbt:"Raining"`
	ThunderTime     int64         `nbt:"ThunderTime"`
	Thundering      bool          `nbt:"Thundering"`
	WeatherCycle    bool          `nbt:"WeatherCycle"`
	CurrentTick     int64         `nbt:"CurrentTick"`
	DefaultGameMode int32         `nbt:"DefaultGameMode"`
	Difficulty      int32         `nbt:"Difficulty"`
	PlayerSpawns    []playerSpawn `nbt:"PlayerSpawns"`
}

type playerSpawn struct {
	UUID string `nbt:"UUID"`
	X    int32  `nbt:"X"`
	Y    int32  `nbt:"Y"`
	Z    int32  `nbt:"Z"`
}

// settingsToData converts world.Settings and player spawns to their stored form.
func settingsToData(s *world.Settings, spawns map[uuid.UUID]cube.Pos) levelData {
	gameModeID, _ := world.GameModeID(s.DefaultGameMode)
	difficultyID, _ := world.DifficultyID(s.Difficulty)

	d := levelData{
		Name:            s.Name,
		SpawnX:          int32(s.Spawn.X()),
		SpawnY:          int32(s.Spawn.Y()),
		SpawnZ:          int32(s.Spawn.Z()),
		Time:            s.Time,
		TimeCycle:       s.TimeCycle,
		RainTime:        s.RainTime,
		Raining:         s.Raining,
		ThunderTime:     s.ThunderTime,
		Thundering:      s.Thundering,
		WeatherCycle:    s.WeatherCycle,
		CurrentTick:     s.CurrentTick,
		DefaultGameMode: int32(gameModeID),
		Difficulty:      int32(difficultyID),
		PlayerSpawns:    make([]playerSpawn, 0, len(spawns)),
	}
	for id, pos := range spawns {
		d.PlayerSpawns = append(d.PlayerSpawns, playerSpawn{
			UUID: id.String(),
			X:    int32(pos.X()),
			Y:    int32(pos.Y()),
			Z:    int32(pos.Z()),
		})
	}
	return d
}

// settingsFromData is the inverse of settingsToData. Spawns with malformed
// ids are skipped.
func settingsFromData(d levelData) (*world.Settings, map[uuid.UUID]cube.Pos) {
	gameMode, ok := world.GameModeByID(int(d.DefaultGameMode))
	if !ok {
		gameMode = world.GameModeSurvival
	}
	difficulty, ok := world.DifficultyByID(int(d.Difficulty))
	if !ok {
		difficulty = world.DifficultyNormal
	}

	s := &world.Settings{
		Name:            d.Name,
		Spawn:           cube.Pos{int(d.SpawnX), int(d.SpawnY), int(d.SpawnZ)},
		Time:            d.Time,
		TimeCycle:       d.TimeCycle,
		RainTime:        d.RainTime,
		Raining:         d.Raining,
		ThunderTime:     d.ThunderTime,
		Thundering:      d.Thundering,
		WeatherCycle:    d.WeatherCycle,
		CurrentTick:     d.CurrentTick,
		DefaultGameMode: gameMode,
		Difficulty:      difficulty,
	}
	spawns := make(map[uuid.UUID]cube.Pos, len(d.PlayerSpawns))
	for _, sp := range d.PlayerSpawns {
		id, err := uuid.Parse(sp.UUID)
		if err != nil {
			continue
		}
		spawns[id] = cube.Pos{int(sp.X), int(sp.Y), int(sp.Z)}
	}
	return s, spawns
}

// defaultSettings returns default world settings.
func defaultSettings() *world.Settings {
	return &world.Settings{
		Name:            "Anvil World",
		Spawn:           cube.Pos{0, 64, 0},
		Time:            6000,
		TimeCycle:       true,
		WeatherCycle:    true,
		DefaultGameMode: world.GameModeSurvival,
		Difficulty:      world.DifficultyNormal,
	}
}

// writeSettings writes a settings file: magic, version, compression id and
// the little endian NBT encoded levelData, compressed with zstd unless level
// is CompressionLevelNone.
func writeSettings(w io.Writer, d levelData, level CompressionLevel) error {
	data, err := nbt.MarshalEncoding(d, nbt.LittleEndian)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	compression := settingsRaw
	if level != CompressionLevelNone {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level.zstdLevel()))
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		_ = enc.Close()
		compression = settingsZstd
	}

	if err := binary.Write(w, binary.BigEndian, settingsMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, settingsVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, compression); err != nil {
		return fmt.Errorf("write compression: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// readSettings reads a file written by writeSettings.
func readSettings(r io.Reader) (levelData, error) {
	var (
		d           levelData
		magic       uint32
		version     int16
		compression uint8
	)
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return d, fmt.Errorf("read magic: %w", err)
	}
	if magic != settingsMagic {
		return d, fmt.Errorf("invalid magic number: got 0x%08X, want 0x%08X", magic, settingsMagic)
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return d, fmt.Errorf("read version: %w", err)
	}
	if version > settingsVersion {
		return d, fmt.Errorf("unsupported version: %d (max supported: %d)", version, settingsVersion)
	}
	if err := binary.Read(r, binary.BigEndian, &compression); err != nil {
		return d, fmt.Errorf("read compression: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return d, fmt.Errorf("read settings: %w", err)
	}
	switch compression {
	case settingsRaw:
	case settingsZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return d, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		if data, err = dec.DecodeAll(data, nil); err != nil {
			return d, fmt.Errorf("decompress settings: %w", err)
		}
	default:
		return d, fmt.Errorf("unknown settings compression %d", compression)
	}

	if err := nbt.NewDecoderWithEncoding(bytes.NewReader(data), nbt.LittleEndian).Decode(&d); err != nil {
		return d, fmt.Errorf("decode settings: %w", err)
	}
	return d, nil
}
