package netcode

import (
	"fmt"
	"time"

	"driftline/netcode/internal/telemetry"
)

const (
	// DefaultQueueLength is the per-player input history depth. At 60 frames
	// per second this holds roughly two seconds of inputs.
	DefaultQueueLength = 128
	// DefaultMaxPrediction bounds how far the local simulation may run ahead
	// of confirmed remote input.
	DefaultMaxPrediction = 8
	// DefaultNumSyncRoundtrips is the handshake quorum: matching
	// request/reply pairs required before a peer counts as synchronized.
	DefaultNumSyncRoundtrips = 5
	// DefaultFPS is used to convert round-trip time into frame advantage.
	DefaultFPS = 60
)

// Default protocol timers. Wall-clock driven, so they live strictly outside
// the simulation step.
const (
	DefaultSyncRetryInterval     = 200 * time.Millisecond
	DefaultRunningRetryInterval  = 200 * time.Millisecond
	DefaultKeepAliveInterval     = 200 * time.Millisecond
	DefaultQualityReportInterval = time.Second
	DefaultDisconnectTimeout     = 5 * time.Second
	DefaultDisconnectNotifyStart = 750 * time.Millisecond
	DefaultShutdownDelay         = 100 * time.Millisecond
)

// Config enumerates the fixed parameters of a session. A Session is created
// once per match; none of these may change afterwards.
type Config struct {
	// NumPlayers is the number of active participants (local plus remote).
	NumPlayers int
	// MaxPlayers caps NumPlayers; zero means "no explicit cap".
	MaxPlayers int
	// InputBytes is the exact size of every input payload.
	InputBytes int
	// InputDelay adds artificial local latency (in frames) to reduce how
	// often remote peers must predict our inputs.
	InputDelay int
	// MaxPrediction is the rollback window depth. It bounds saved-state
	// memory and how far back a rollback may reach. Zero selects lockstep
	// mode: the session only advances on fully confirmed frames.
	MaxPrediction int
	// QueueLength is the per-player input ring capacity. Defaults to
	// DefaultQueueLength when zero.
	QueueLength int
	// DesyncInterval is the confirmed-frame spacing between checksum
	// exchanges. Zero disables desync detection.
	DesyncInterval int
	// FPS is the nominal simulation rate, used only for frame-advantage
	// estimation. Defaults to DefaultFPS when zero.
	FPS int

	// NumSyncRoundtrips overrides the handshake quorum when positive.
	NumSyncRoundtrips int

	// Protocol timers; zero values select the defaults above.
	SyncRetryInterval     time.Duration
	RunningRetryInterval  time.Duration
	KeepAliveInterval     time.Duration
	QualityReportInterval time.Duration
	DisconnectTimeout     time.Duration
	DisconnectNotifyStart time.Duration
	ShutdownDelay         time.Duration

	// Logger receives diagnostic output. Nil disables logging.
	Logger telemetry.Logger
	// Metrics receives counters and gauges. Nil disables metrics.
	Metrics telemetry.Metrics
}

// withDefaults returns a copy with zero values replaced by defaults. Validate
// runs on the filled-in copy so error messages reflect effective values.
func (c Config) withDefaults() Config {
	if c.QueueLength == 0 {
		c.QueueLength = DefaultQueueLength
	}
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.NumSyncRoundtrips == 0 {
		c.NumSyncRoundtrips = DefaultNumSyncRoundtrips
	}
	if c.SyncRetryInterval == 0 {
		c.SyncRetryInterval = DefaultSyncRetryInterval
	}
	if c.RunningRetryInterval == 0 {
		c.RunningRetryInterval = DefaultRunningRetryInterval
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.QualityReportInterval == 0 {
		c.QualityReportInterval = DefaultQualityReportInterval
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.DisconnectNotifyStart == 0 {
		c.DisconnectNotifyStart = DefaultDisconnectNotifyStart
	}
	if c.ShutdownDelay == 0 {
		c.ShutdownDelay = DefaultShutdownDelay
	}
	return c
}

// Validate rejects configurations that would construct an inconsistent
// session. All violations wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if c.NumPlayers < 1 {
		return fmt.Errorf("%w: NumPlayers must be at least 1, got %d", ErrInvalidConfig, c.NumPlayers)
	}
	if c.MaxPlayers > 0 && c.NumPlayers > c.MaxPlayers {
		return fmt.Errorf("%w: NumPlayers %d exceeds MaxPlayers %d", ErrInvalidConfig, c.NumPlayers, c.MaxPlayers)
	}
	if c.InputBytes < 1 {
		return fmt.Errorf("%w: InputBytes must be at least 1, got %d", ErrInvalidConfig, c.InputBytes)
	}
	if c.InputDelay < 0 {
		return fmt.Errorf("%w: InputDelay must not be negative, got %d", ErrInvalidConfig, c.InputDelay)
	}
	if c.MaxPrediction < 0 {
		return fmt.Errorf("%w: MaxPrediction must not be negative, got %d", ErrInvalidConfig, c.MaxPrediction)
	}
	if c.InputDelay > c.MaxPrediction && c.MaxPrediction > 0 {
		return fmt.Errorf("%w: InputDelay %d exceeds MaxPrediction %d", ErrInvalidConfig, c.InputDelay, c.MaxPrediction)
	}
	if c.QueueLength < 2 {
		return fmt.Errorf("%w: QueueLength must be at least 2, got %d", ErrInvalidConfig, c.QueueLength)
	}
	if c.InputDelay > c.QueueLength-1 {
		return fmt.Errorf("%w: InputDelay %d exceeds queue capacity %d", ErrInvalidConfig, c.InputDelay, c.QueueLength-1)
	}
	if c.MaxPrediction >= c.QueueLength {
		return fmt.Errorf("%w: MaxPrediction %d must be below QueueLength %d", ErrInvalidConfig, c.MaxPrediction, c.QueueLength)
	}
	if c.DesyncInterval < 0 {
		return fmt.Errorf("%w: DesyncInterval must not be negative, got %d", ErrInvalidConfig, c.DesyncInterval)
	}
	return nil
}

// Callbacks are supplied by the host application. AdvanceFrame is invoked
// once per simulated tick, including rollback replay ticks; replay ticks are
// flagged so the host can suppress irreversible side effects (audio, external
// sends) while re-simulating.
type Callbacks struct {
	// SaveState serializes the complete simulation state for the frame.
	SaveState func(frame Frame) ([]byte, error)
	// LoadState restores a snapshot previously produced by SaveState.
	LoadState func(frame Frame, state []byte) error
	// AdvanceFrame steps the simulation exactly one tick with the given
	// input set.
	AdvanceFrame func(inputs []SynchronizedInput, replay bool) error
}

func (cb Callbacks) validate() error {
	if cb.SaveState == nil || cb.LoadState == nil || cb.AdvanceFrame == nil {
		return fmt.Errorf("%w: SaveState, LoadState and AdvanceFrame callbacks are required", ErrInvalidConfig)
	}
	return nil
}
