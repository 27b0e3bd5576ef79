package vm

// Config bounds a single run.
type Config struct {
	// MaxFrames is the deepest call stack allowed, counting the entry frame.
	// A run that reaches exactly MaxFrames frames succeeds; one more fails
	// with ErrStackOverflow.
	MaxFrames int
	// MaxStack bounds the operand stack, locals included.
	MaxStack int
	// MaxHeapBytes bounds arena usage. Zero means unbounded.
	MaxHeapBytes int
	// StepLimit aborts the run after this many instructions. Zero means
	// unbounded.
	StepLimit int64
	// CheckInterval is how many instructions run between context checks.
	CheckInterval int
	// Trace logs every dispatched instruction at debug level.
	Trace bool
}

// Defaults
const (
	DefaultMaxFrames     = 1024
	DefaultMaxStack      = 1 << 16
	DefaultMaxHeapBytes  = 64 << 20
	DefaultCheckInterval = 1024
)

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxFrames:     DefaultMaxFrames,
		MaxStack:      DefaultMaxStack,
		MaxHeapBytes:  DefaultMaxHeapBytes,
		CheckInterval: DefaultCheckInterval,
	}
}

// withDefaults fills zero fields. Zero MaxHeapBytes and StepLimit keep
// their unbounded meaning.
func (c Config) withDefaults() Config {
	if c.MaxFrames <= 0 {
		c.MaxFrames = DefaultMaxFrames
	}
	if c.MaxStack <= 0 {
		c.MaxStack = DefaultMaxStack
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}
