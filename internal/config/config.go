// Package config loads the adapter's runtime settings the way the rest of
// the corpus does: a YAML defaults file merged with an optional override
// file, plus flag-parsed CLI overrides for the handful of values operators
// actually touch per run.
package config

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Mode names which of the three processes an invocation runs as. The adapter
// ships server, client, and wind-reader as three binaries (cmd/server,
// cmd/client, cmd/wind); each appends its own mode as the positional mode
// argument ParseFlags reads, following cmd/thumbnails' flag-based CLI
// pattern in the teacher.
type Mode string

const (
	ModeServer Mode = "server"
	ModeClient Mode = "client"
	ModeWind   Mode = "wind"
)

// Ports holds every TCP/HTTP port the adapter binds or dials.
type Ports struct {
	Listen             int `yaml:"listenPort"`
	PassthroughDisplay int `yaml:"passthroughPortDisplayProgram"`
	DisplayClient      int `yaml:"displayClientCommunicationPort"`
	InternalWebControl int `yaml:"internalWebcontrolPort"`
	WindExchange       int `yaml:"windExchangePort"`
	CameraSerial       int `yaml:"cameraSerialPort"`
	CameraData         int `yaml:"cameraDataPort"`
	CameraXML          int `yaml:"cameraXmlPort"`
}

// Timing holds the two timing knobs §6 names explicitly.
type Timing struct {
	WaitMsBeforeTestingForShutdown int `yaml:"waitMsBeforeTestingForShutdown"`
	ClientEmitsFrameEveryNrOfMs    int `yaml:"clientEmitsFrameEveryNrOfMs"`
}

// Behavior holds the boolean toggles from §6.
type Behavior struct {
	PassthroughToDisplayProgram bool `yaml:"passthroughToDisplayProgram"`
	ListenToTimingProgram       bool `yaml:"listenToTimingProgram"`
	FireworksOnIntermediate     bool `yaml:"fireworksOnIntermediate"`
	FireworksOnFinish           bool `yaml:"fireworksOnFinish"`
	PlaySoundOnStart            bool `yaml:"playSoundOnStart"`
	PlaySoundOnIntermediate     bool `yaml:"playSoundOnIntermediate"`
	PlaySoundOnFinish           bool `yaml:"playSoundOnFinish"`
	EmitFileOnLocationUpdate    bool `yaml:"emitFileOnLocationUpdate"`
}

// Display holds the window geometry and slideshow/timing-render knobs.
type Display struct {
	PosX                      int `yaml:"dpPosX"`
	PosY                      int `yaml:"dpPosY"`
	Width                     int `yaml:"dpWidth"`
	Height                    int `yaml:"dpHeight"`
	SlideshowDurationMs       int `yaml:"slideshowDurationNrMs"`
	SlideshowTransitionMs     int `yaml:"slideshowTransitionDurationNrMs"`
	MaxDecimalPlaceAfterComma int `yaml:"maxDecimalPlaceAfterComma"`
	HoldTimeMs                int `yaml:"holdTimeMs"`
}

// Paths holds the on-disk conventions §6 names: the SQLite container, the
// ad-image directory, and the coordinate-persistence file.
type Paths struct {
	DatabaseContainer      string `yaml:"databaseContainer"`
	AdvertisementContainer string `yaml:"advertisementContainer"`
	MoveContainer          string `yaml:"moveContainer"`
}

// Config is the full merged configuration for any of the three modes.
type Config struct {
	AddressDisplayClient string   `yaml:"addressDisplayClient"`
	PassthroughAddress   string   `yaml:"passthroughAddress"`
	WindAddress          string   `yaml:"windAddress"`
	CameraAddress        string   `yaml:"cameraAddress"`
	Ports                Ports    `yaml:"ports"`
	Timing               Timing   `yaml:"timing"`
	Behavior             Behavior `yaml:"behavior"`
	Display              Display  `yaml:"display"`
	Paths                Paths    `yaml:"paths"`
}

// defaults mirrors the numeric defaults named in §6 verbatim.
func defaults() Config {
	return Config{
		AddressDisplayClient: "127.0.0.1",
		PassthroughAddress:   "127.0.0.1",
		WindAddress:          "127.0.0.1",
		CameraAddress:        "127.0.0.1",
		Ports: Ports{
			Listen:             18690,
			PassthroughDisplay: 18691,
			DisplayClient:      18692,
			InternalWebControl: 18693,
			WindExchange:       18694,
			CameraSerial:       4445,
			CameraData:         4446,
			CameraXML:          4447,
		},
		Timing: Timing{
			WaitMsBeforeTestingForShutdown: 1000,
			ClientEmitsFrameEveryNrOfMs:    500,
		},
		Behavior: Behavior{
			PassthroughToDisplayProgram: true,
			ListenToTimingProgram:       true,
		},
		Display: Display{
			SlideshowDurationMs:       2000,
			SlideshowTransitionMs:     200,
			MaxDecimalPlaceAfterComma: 2,
			HoldTimeMs:                2000,
		},
		Paths: Paths{
			DatabaseContainer:      "database_container",
			AdvertisementContainer: "advertisement_container",
			MoveContainer:          "move_container",
		},
	}
}

// LoadResult holds the effective merged config next to the raw defaults, so
// callers that need to write back overrides (web-control settings changes)
// can diff against a known baseline.
type LoadResult struct {
	Config   *Config
	Defaults *Config
}

// Load reads config.default.yaml if present (falling back to the
// compiled-in defaults when absent — the teacher requires the file to
// exist, but this adapter is meant to run out of the box), then layers an
// optional config.yaml override on top.
func Load() (*LoadResult, error) {
	d := defaults()

	if data, err := os.ReadFile("config.default.yaml"); err == nil {
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, errors.Wrap(err, "config: parsing config.default.yaml")
		}
	}

	cfg := d
	if data, err := os.ReadFile("config.yaml"); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "config: parsing config.yaml")
		}
	}

	return &LoadResult{Config: &cfg, Defaults: &d}, nil
}

// SaveOverrides writes updated to config.yaml. It writes every field of
// updated, including those equal to their defaults; the defaults argument
// is not consulted.
func SaveOverrides(updated, defaults Config) error {
	data, err := yaml.Marshal(updated)
	if err != nil {
		return errors.Wrap(err, "config: marshaling overrides")
	}
	return os.WriteFile("config.yaml", data, 0644)
}

// ParseFlags parses the positional mode argument plus the per-run flag
// overrides named in §6, applying them on top of cfg.
func ParseFlags(cfg *Config, args []string) (Mode, error) {
	fs := flag.NewFlagSet("dwa", flag.ContinueOnError)
	listenPort := fs.Int("listen-port", cfg.Ports.Listen, "timing program listener port")
	webPort := fs.Int("webcontrol-port", cfg.Ports.InternalWebControl, "web-control HTTP/WS port")
	windPort := fs.Int("wind-port", cfg.Ports.WindExchange, "wind server exchange port")
	passthrough := fs.Bool("passthrough-to-display-program", cfg.Behavior.PassthroughToDisplayProgram, "enable passthrough mode toggling")

	if err := fs.Parse(args); err != nil {
		return "", errors.Wrap(err, "config: parsing flags")
	}
	if fs.NArg() < 1 {
		return "", errors.New("config: missing mode argument (server|client|wind)")
	}

	mode := Mode(fs.Arg(0))
	switch mode {
	case ModeServer, ModeClient, ModeWind:
	default:
		return "", errors.Errorf("config: unknown mode %q", mode)
	}

	cfg.Ports.Listen = *listenPort
	cfg.Ports.InternalWebControl = *webPort
	cfg.Ports.WindExchange = *windPort
	cfg.Behavior.PassthroughToDisplayProgram = *passthrough

	return mode, nil
}

// WaitBeforeShutdownCheck returns Timing.WaitMsBeforeTestingForShutdown as a
// time.Duration, the unit every peer-connector loop actually needs.
func (c Config) WaitBeforeShutdownCheck() time.Duration {
	return time.Duration(c.Timing.WaitMsBeforeTestingForShutdown) * time.Millisecond
}

// ClientEmitInterval returns Timing.ClientEmitsFrameEveryNrOfMs as a
// time.Duration.
func (c Config) ClientEmitInterval() time.Duration {
	return time.Duration(c.Timing.ClientEmitsFrameEveryNrOfMs) * time.Millisecond
}
