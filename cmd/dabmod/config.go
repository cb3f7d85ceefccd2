package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cwsl/dabmod/gain"
	"github.com/cwsl/dabmod/sdr"
)

// Config is the top-level runtime configuration, loaded from a YAML
// file named on the command line, and used to populate the pipeline
// at startup.
type Config struct {
	Gain struct {
		Mode        string  `yaml:"mode"`
		DigitalGain float32 `yaml:"digital_gain"`
		K           float32 `yaml:"k"`
	} `yaml:"gain"`

	Predistorter struct {
		Coeffile   string `yaml:"coeffile"`
		NumWorkers int    `yaml:"num_workers"`
	} `yaml:"predistorter"`

	Source struct {
		Path       string `yaml:"path"`
		Mode       string `yaml:"mode"` // "I", "II", "III", "IV"
		SampleRate uint32 `yaml:"sample_rate"`
		FrameLen   int    `yaml:"frame_len"`
	} `yaml:"source"`

	Device struct {
		Backend         string  `yaml:"backend"` // "udpsdr" or "fileout"
		FileOutPath     string  `yaml:"fileout_path"`
		DataGroup       string  `yaml:"data_group"`
		StatusGroup     string  `yaml:"status_group"`
		Interface       string  `yaml:"interface"`
		MasterClockRate uint32  `yaml:"master_clock_rate"`
		SampleRate      uint32  `yaml:"sample_rate"`
		RefClockSource  string  `yaml:"ref_clock_source"`
		PPSSource       string  `yaml:"pps_source"`
		Subdevice       string  `yaml:"subdevice"`
		TXFrequency     float64 `yaml:"tx_frequency"`
		LOOffsetHz      float64 `yaml:"lo_offset_hz"`
		TXGain          float64 `yaml:"tx_gain"`
		RXFrequency     float64 `yaml:"rx_frequency"`
		RXGain          float64 `yaml:"rx_gain"`
		RXAntenna          string `yaml:"rx_antenna"`
		DeviceArgs         string `yaml:"device_args"`
		MinFirmwareVersion string `yaml:"min_firmware_version"`
	} `yaml:"device"`

	Transmit struct {
		MuteNoTimestamps    bool          `yaml:"mute_no_timestamps"`
		RefClockMonitored   bool          `yaml:"ref_clock_monitored"`
		RefClockLossIsFatal bool          `yaml:"ref_clock_loss_is_fatal"`
		MaxGPSHoldoverTime  time.Duration `yaml:"max_gps_holdover_time"`
		StaticDelayUs       int           `yaml:"static_delay_us"`
	} `yaml:"transmit"`

	Feedback struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"`
		DumpDir string `yaml:"dump_dir"`
	} `yaml:"feedback"`

	RemoteControl struct {
		MCPListen string `yaml:"mcp_listen"`
	} `yaml:"remote_control"`

	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
}

// LoadConfig reads and parses path as YAML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) gainConfig() gain.Config {
	mode, err := gain.ParseMode(c.Gain.Mode)
	if err != nil {
		mode = gain.Fix
	}
	return gain.Config{Mode: mode, DigitalGain: c.Gain.DigitalGain, K: c.Gain.K}
}

func (c *Config) deviceConfig() sdr.Config {
	return sdr.Config{
		MasterClockRate: c.Device.MasterClockRate,
		SampleRate:      c.Device.SampleRate,
		RefClockSource:  parseRefClockSource(c.Device.RefClockSource),
		PPSSource:       parsePPSSource(c.Device.PPSSource),
		Subdevice:       c.Device.Subdevice,
		TXFrequency:     c.Device.TXFrequency,
		LOOffsetHz:      c.Device.LOOffsetHz,
		TXGain:          c.Device.TXGain,
		RXFrequency:     c.Device.RXFrequency,
		RXGain:          c.Device.RXGain,
		RXAntenna:       c.Device.RXAntenna,
		DeviceArgs:      c.Device.DeviceArgs,
	}
}

func parseRefClockSource(s string) sdr.RefClockSource {
	switch s {
	case "external":
		return sdr.RefClockExternal
	case "mimo":
		return sdr.RefClockMIMO
	case "gpsdo":
		return sdr.RefClockGPSDO
	case "gpsdo-ettus":
		return sdr.RefClockGPSDOEttus
	default:
		return sdr.RefClockInternal
	}
}

func parsePPSSource(s string) sdr.PPSSource {
	switch s {
	case "external":
		return sdr.PPSExternal
	case "mimo":
		return sdr.PPSMIMO
	case "gpsdo":
		return sdr.PPSGPSDO
	default:
		return sdr.PPSNone
	}
}
