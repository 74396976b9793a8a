package config

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetNotFound is returned when a display target name is unknown.
	ErrTargetNotFound = errors.New("display target not found")
)

// Output types understood by the output factory.
const (
	OutputMJPEG   = "mjpeg"
	OutputDiscard = "discard"
	OutputX11     = "x11"
	OutputGst     = "gst"
)

// OutputConfig selects and configures the sink a target sends to
type OutputConfig struct {
	Type string `json:"type" yaml:"type" mapstructure:"type"`
	// Pipeline is the GStreamer pipeline after the appsrc, e.g.
	// "videoconvert ! x264enc tune=zerolatency ! rtph264pay ! udpsink host=10.0.0.5 port=5000"
	Pipeline string `json:"pipeline,omitempty" yaml:"pipeline,omitempty" mapstructure:"pipeline"`
	// Quality is the JPEG quality for the mjpeg output (1-100)
	Quality int `json:"quality,omitempty" yaml:"quality,omitempty" mapstructure:"quality"`
}

// TargetConfig describes one display target (an output stream of the
// presentation surface)
type TargetConfig struct {
	Name   string `json:"name" yaml:"name" mapstructure:"name"`
	Width  int    `json:"width" yaml:"width" mapstructure:"width"`
	Height int    `json:"height" yaml:"height" mapstructure:"height"`
	FPS    uint32 `json:"fps" yaml:"fps" mapstructure:"fps"`
	Active bool   `json:"active" yaml:"active" mapstructure:"active"`
	Debug  bool   `json:"debug" yaml:"debug" mapstructure:"debug"`
	// RenderSkip skips capturing static content. Disable to capture every frame.
	RenderSkip bool         `json:"render_skip" yaml:"render_skip" mapstructure:"render_skip"`
	Output     OutputConfig `json:"output" yaml:"output" mapstructure:"output"`
}

// Validate checks the target for values the pipeline cannot run with
func (t TargetConfig) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target name is required")
	}
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("target %q: invalid size %dx%d", t.Name, t.Width, t.Height)
	}
	if t.FPS == 0 || t.FPS > 240 {
		return fmt.Errorf("target %q: fps must be between 1 and 240, got %d", t.Name, t.FPS)
	}
	if t.Output.Type == "" {
		return fmt.Errorf("target %q: output type is required", t.Name)
	}
	return nil
}

// SlideConfig is one card of the built-in stage
type SlideConfig struct {
	Title string `json:"title" yaml:"title" mapstructure:"title"`
	Color string `json:"color" yaml:"color" mapstructure:"color"` // #rrggbb
	Image string `json:"image,omitempty" yaml:"image,omitempty" mapstructure:"image"`
}

// StageConfig configures the built-in presentation surface
type StageConfig struct {
	Width        int           `json:"width" yaml:"width" mapstructure:"width"`
	Height       int           `json:"height" yaml:"height" mapstructure:"height"`
	TransitionMs int           `json:"transition_ms" yaml:"transition_ms" mapstructure:"transition_ms"`
	SlideDir     string        `json:"slide_dir,omitempty" yaml:"slide_dir,omitempty" mapstructure:"slide_dir"`
	Slides       []SlideConfig `json:"slides" yaml:"slides" mapstructure:"slides"`
}

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	// RefreshHz is the rate of the host loop driving every target's scheduler
	RefreshHz int            `json:"refresh_hz" yaml:"refresh_hz" mapstructure:"refresh_hz"`
	Stage     StageConfig    `json:"stage" yaml:"stage" mapstructure:"stage"`
	Targets   []TargetConfig `json:"targets" yaml:"targets" mapstructure:"targets"`
}

// Validate checks every target and rejects duplicate names
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true
	}
	if c.RefreshHz <= 0 {
		return fmt.Errorf("refresh_hz must be positive, got %d", c.RefreshHz)
	}
	return nil
}

// Defaults returns the configuration written on first run
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		RefreshHz:  60,
		Stage: StageConfig{
			Width:        1920,
			Height:       1080,
			TransitionMs: 500,
			Slides: []SlideConfig{
				{Title: "Welcome", Color: "#1d3557"},
				{Title: "Amazing Grace", Color: "#2a9d8f"},
				{Title: "John 3:16", Color: "#6d2e46"},
			},
		},
		Targets: []TargetConfig{
			{
				Name:       "main",
				Width:      1280,
				Height:     720,
				FPS:        30,
				Active:     true,
				RenderSkip: true,
				Output:     OutputConfig{Type: OutputMJPEG, Quality: 85},
			},
		},
	}
}

// applyDefaults fills zero values left out of a hand-written config file
func (c *Config) applyDefaults() {
	d := Defaults()
	if c.ServerPort == 0 {
		c.ServerPort = d.ServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.RefreshHz == 0 {
		c.RefreshHz = d.RefreshHz
	}
	if c.Stage.Width == 0 || c.Stage.Height == 0 {
		c.Stage.Width, c.Stage.Height = d.Stage.Width, d.Stage.Height
	}
	if c.Stage.TransitionMs == 0 {
		c.Stage.TransitionMs = d.Stage.TransitionMs
	}
	if c.Stage.Slides == nil {
		c.Stage.Slides = []SlideConfig{}
	}
	if c.Targets == nil {
		c.Targets = []TargetConfig{}
	}
	for i := range c.Targets {
		if c.Targets[i].Output.Type == "" {
			c.Targets[i].Output.Type = OutputDiscard
		}
	}
}

// clone returns a deep copy safe to hand out of the manager
func (c *Config) clone() *Config {
	out := *c
	out.Targets = append([]TargetConfig(nil), c.Targets...)
	out.Stage.Slides = append([]SlideConfig(nil), c.Stage.Slides...)
	return &out
}
