package recipe

import "fmt"

// Option declares a recognized configuration option: its default value and a
// description for operators.
type Option struct {
	Default any
	Help    string
}

// BaseOptions are the options every packaging recipe inherits.
func BaseOptions() map[string]Option {
	return map[string]Option{
		"runtest":   {Default: false, Help: "Run the recipe's post-install tests"},
		"buildopts": {Default: "", Help: "Extra options appended to the build invocation"},
	}
}

// MergeOptions combines base options with recipe-specific extras. Extras win
// on name collisions.
func MergeOptions(base, extra map[string]Option) map[string]Option {
	merged := make(map[string]Option, len(base)+len(extra))
	for name, opt := range base {
		merged[name] = opt
	}
	for name, opt := range extra {
		merged[name] = opt
	}
	return merged
}

// Config holds the resolved option values for one build: declared defaults
// overlaid with operator-supplied overrides. It is read-only from a recipe's
// perspective.
type Config struct {
	opts   map[string]Option
	values map[string]any
}

// NewConfig creates a Config over the declared options.
func NewConfig(opts map[string]Option) *Config {
	return &Config{opts: opts, values: make(map[string]any)}
}

// Set overrides an option value. Unknown options are rejected.
func (c *Config) Set(name string, value any) error {
	if _, ok := c.opts[name]; !ok {
		return fmt.Errorf("unknown configuration option %q", name)
	}
	c.values[name] = value
	return nil
}

func (c *Config) value(name string) any {
	if v, ok := c.values[name]; ok {
		return v
	}
	if opt, ok := c.opts[name]; ok {
		return opt.Default
	}
	return nil
}

// Bool returns the boolean value of name, false when unset or mistyped.
func (c *Config) Bool(name string) bool {
	v, _ := c.value(name).(bool)
	return v
}

// String returns the string value of name, "" when unset or mistyped.
func (c *Config) String(name string) string {
	v, _ := c.value(name).(string)
	return v
}

// Strings returns the string-list value of name. Lists decoded from YAML
// arrive as []any and are converted element-wise.
func (c *Config) Strings(name string) []string {
	switch v := c.value(name).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}
