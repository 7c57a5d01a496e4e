package config

import (
	"reflect"

	"github.com/creasty/defaults"
)

type Configuration struct {
	Scheduler Scheduler `debugmap:"visible"`
	Engine    Engine    `debugmap:"visible"`
	History   History   `debugmap:"visible"`
	LogFormat string    `debugmap:"visible" default:"console"`
	LogLevel  string    `debugmap:"visible" default:"info"`
}

type Scheduler struct {
	Workers        int `debugmap:"visible" default:"1"`
	FontsBatchSize int `debugmap:"visible" default:"20"`
}

type Engine struct {
	TempDir   string  `debugmap:"visible"`
	ExportDPI float64 `debugmap:"visible" default:"150"`
}

type History struct {
	Enabled bool   `debugmap:"visible" default:"true"`
	Path    string `debugmap:"visible" default:"docjobs.duckdb"`
}

type ConfigurationOption func(*Configuration)

// NewConfigurationWithOptionsAndDefaults applies the default tags, then opts.
func NewConfigurationWithOptionsAndDefaults(opts ...ConfigurationOption) *Configuration {
	c := &Configuration{}
	defaults.MustSet(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithScheduler(s Scheduler) ConfigurationOption {
	return func(c *Configuration) {
		c.Scheduler = s
	}
}

func WithEngine(e Engine) ConfigurationOption {
	return func(c *Configuration) {
		c.Engine = e
	}
}

func WithHistory(h History) ConfigurationOption {
	return func(c *Configuration) {
		c.History = h
	}
}

func WithLogFormat(format string) ConfigurationOption {
	return func(c *Configuration) {
		c.LogFormat = format
	}
}

func WithLogLevel(level string) ConfigurationOption {
	return func(c *Configuration) {
		c.LogLevel = level
	}
}

// DebugMap returns the fields tagged debugmap:"visible", nested by section.
// Hidden fields are replaced by "(hidden)".
func (c *Configuration) DebugMap() map[string]any {
	return debugMap(reflect.ValueOf(*c))
}

func debugMap(v reflect.Value) map[string]any {
	m := make(map[string]any, v.NumField())
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := t.Field(i)
		switch f.Tag.Get("debugmap") {
		case "visible":
			if v.Field(i).Kind() == reflect.Struct {
				m[f.Name] = debugMap(v.Field(i))
				continue
			}
			m[f.Name] = v.Field(i).Interface()
		case "hidden":
			m[f.Name] = "(hidden)"
		}
	}
	return m
}
