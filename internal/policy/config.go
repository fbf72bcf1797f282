package policy

// Mode is the enforcement posture of the outreach gate.
type Mode string

const (
	// ModeOff skips evaluation entirely.
	ModeOff Mode = "off"
	// ModeDryRun evaluates and records the outcome but always allows.
	ModeDryRun Mode = "dry-run"
	// ModeEnforce blocks sends the policies deny.
	ModeEnforce Mode = "enforce"
)

// Config selects the policy directory and how strictly decisions apply.
type Config struct {
	Enabled bool
	Mode    Mode

	// Path is the directory holding .rego policy files.
	Path string

	// FailClosed denies sends when policies cannot be loaded or
	// evaluated. The default is fail-open: a broken policy setup must
	// not silently halt every campaign.
	FailClosed bool

	// Environment is exposed to policies as input.environment.
	Environment string
}

// Normalize coerces an unknown mode to off and keeps Enabled consistent
// with it.
func (c *Config) Normalize() {
	switch c.Mode {
	case ModeOff, ModeDryRun, ModeEnforce:
	default:
		c.Mode = ModeOff
	}
	if c.Mode == ModeOff {
		c.Enabled = false
	}
}
