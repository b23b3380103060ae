package world

type WorldConfig struct {
	ID         string
	TickRateHz int

	// Default movement speed for players spawned without an explicit speed.
	PlayerSpeed float64
}

func (c *WorldConfig) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 60
	}
	if c.PlayerSpeed <= 0 {
		c.PlayerSpeed = DefaultPlayerSpeed
	}
}

// DeltaSeconds is the fixed step duration fed to the step function.
func (c WorldConfig) DeltaSeconds() float64 {
	if c.TickRateHz <= 0 {
		return 0
	}
	return 1.0 / float64(c.TickRateHz)
}
