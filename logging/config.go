package logging

import (
	"strings"
	"time"
)

// Config selects sinks and filters for the event router.
type Config struct {
	// EnabledSinks names the sinks that receive events. Named sinks passed
	// to NewRouter but missing here are ignored.
	EnabledSinks    []string
	BufferSize      int
	MinimumSeverity Severity
	// DebugCategories lowers the threshold to debug for the listed event
	// categories, so echo suppression can be traced without flooding every
	// sink with debug records.
	DebugCategories  []string
	Fields           map[string]any
	JSON             JSONConfig
	DropWarnInterval time.Duration
}

type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       256,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: time.Second,
		},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

// EnableSink adds name to the enabled sinks once.
func (c *Config) EnableSink(name string) {
	if !c.HasSink(name) {
		c.EnabledSinks = append(c.EnabledSinks, name)
	}
}

// ParseCategories splits a comma separated category list.
func ParseCategories(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.ToLower(strings.TrimSpace(part)); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (c Config) thresholds() map[string]Severity {
	if len(c.DebugCategories) == 0 {
		return nil
	}
	out := make(map[string]Severity, len(c.DebugCategories))
	for _, category := range c.DebugCategories {
		out[category] = SeverityDebug
	}
	return out
}

func (c Config) cloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
