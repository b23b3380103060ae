package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rollback.gg/internal/protocol"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz     int     `yaml:"tick_rate_hz"`
	RollbackWindow int     `yaml:"rollback_window"`
	PlayerSpeed    float64 `yaml:"player_speed"`

	// Unreliable GAME_SYNC cadence on the server.
	SyncEveryTicks int `yaml:"sync_every_ticks"`
	// On-disk snapshot cadence; 0 disables snapshots.
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	MaxClients int `yaml:"max_clients"`
	// Per-connection outbound queue depth.
	MaxQueue int `yaml:"max_queue"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	// Sustained INPUT messages per second per connection, and burst.
	InputPerSecond float64 `yaml:"input_per_second"`
	InputBurst     int     `yaml:"input_burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    protocol.Version,
		TickRateHz:         60,
		RollbackWindow:     10,
		PlayerSpeed:        100,
		SyncEveryTicks:     60,
		SnapshotEveryTicks: 3600,
		MaxClients:         64,
		MaxQueue:           256,
		RateLimits: RateLimits{
			InputPerSecond: 120,
			InputBurst:     30,
		},
	}
}

// Load reads a tuning file on top of Defaults. An empty path returns the
// defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if strings.TrimSpace(t.ProtocolVersion) == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.TickRateHz == 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.RollbackWindow == 0 {
		t.RollbackWindow = d.RollbackWindow
	}
	if t.PlayerSpeed == 0 {
		t.PlayerSpeed = d.PlayerSpeed
	}
	if t.SyncEveryTicks == 0 {
		t.SyncEveryTicks = d.SyncEveryTicks
	}
	if t.MaxClients == 0 {
		t.MaxClients = d.MaxClients
	}
	if t.MaxQueue == 0 {
		t.MaxQueue = d.MaxQueue
	}
	if t.RateLimits.InputPerSecond == 0 {
		t.RateLimits.InputPerSecond = d.RateLimits.InputPerSecond
	}
	if t.RateLimits.InputBurst == 0 {
		t.RateLimits.InputBurst = d.RateLimits.InputBurst
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz < 1 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be in [1, 1000]")
	}
	if t.RollbackWindow < 2 {
		return fmt.Errorf("rollback_window must be >= 2")
	}
	if t.PlayerSpeed < 0 {
		return fmt.Errorf("player_speed must be >= 0")
	}
	if t.SyncEveryTicks < 1 {
		return fmt.Errorf("sync_every_ticks must be > 0")
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0")
	}
	if t.MaxClients < 1 {
		return fmt.Errorf("max_clients must be > 0")
	}
	if t.MaxQueue < 1 {
		return fmt.Errorf("max_queue must be > 0")
	}
	if t.RateLimits.InputPerSecond < 0 || t.RateLimits.InputBurst < 0 {
		return fmt.Errorf("rate_limits must be >= 0")
	}
	return nil
}

func (t Tuning) TickDuration() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}
