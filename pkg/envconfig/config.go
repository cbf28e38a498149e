// Package envconfig reads process-wide defaults from the environment.
//
// Every getter re-reads its variable on each call so tests can use t.Setenv.
// Invalid values are logged and replaced by the default.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Var returns an environment variable stripped of surrounding spaces and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// LogLevel returns the log level for ATTN_DEBUG. A true value enables debug,
// an integer n selects slog.Level(-4n).
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("ATTN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// BoolWithDefault returns a getter for a boolean variable.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a getter for a boolean variable that defaults to false.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// Uint returns a getter for an unsigned variable with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Int64 returns a getter for a signed variable with a default.
func Int64(key string, defaultValue int64) func() int64 {
	return func() int64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

var (
	// ValidateOutput turns on NaN/Inf checks of every forward pass.
	ValidateOutput = Bool("ATTN_VALIDATE")
	// Seed is the default seed for weight initialization.
	Seed = Int64("ATTN_SEED", 0)
)

// NumThreads returns the worker limit for the attention kernel (ATTN_NUM_THREADS).
// Zero or unset means GOMAXPROCS.
func NumThreads() int {
	if n := Uint("ATTN_NUM_THREADS", 0)(); n > 0 {
		return int(n)
	}
	return runtime.GOMAXPROCS(0)
}

// EnvVar describes one variable for listings.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every recognized variable with its effective value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"ATTN_DEBUG":       {"ATTN_DEBUG", LogLevel(), "Show additional debug information (e.g. ATTN_DEBUG=1)"},
		"ATTN_NUM_THREADS": {"ATTN_NUM_THREADS", NumThreads(), "Maximum goroutines per attention call (default: GOMAXPROCS)"},
		"ATTN_SEED":        {"ATTN_SEED", Seed(), "Seed for weight initialization"},
		"ATTN_VALIDATE":    {"ATTN_VALIDATE", ValidateOutput(), "Check outputs for NaN/Inf"},
	}
}

// Values returns every recognized variable formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
