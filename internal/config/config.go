package config

// Configuration loading and validation for xcpmaster

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tonylturner/xcpmaster/internal/errors"
	"github.com/tonylturner/xcpmaster/internal/logging"
	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
	"github.com/tonylturner/xcpmaster/internal/xcp/transport"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "xcpmaster.yaml"

// Address is a slave memory address written as hex in YAML.
type Address uint32

// MarshalYAML renders the address as 0x-prefixed hex.
func (a Address) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("0x%08X", uint32(a))}, nil
}

// UnmarshalYAML accepts decimal, 0x hex and 0o octal integers.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	v, err := strconv.ParseUint(strings.ReplaceAll(value.Value, "_", ""), 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: invalid address %q", value.Line, value.Value)
	}
	*a = Address(v)
	return nil
}

// EthernetConfig is the UDP link to the slave.
type EthernetConfig struct {
	SlaveIP   string `yaml:"slave_ip"`
	SlavePort int    `yaml:"slave_port"`
	HostIP    string `yaml:"host_ip,omitempty"`
	HostPort  int    `yaml:"host_port,omitempty"`
	Protocol  string `yaml:"protocol"` // "udp"; "tcp" is rejected
	TOS       int    `yaml:"tos,omitempty"`
	TTL       int    `yaml:"ttl,omitempty"`
}

// XCPConfig holds the host-side protocol settings.
type XCPConfig struct {
	Version            string `yaml:"version"`
	Endian             string `yaml:"endian"`              // "little" or "big"
	AddressGranularity string `yaml:"address_granularity"` // "byte", "word" or "dword"
	DaqMode            string `yaml:"daq_mode"`            // "dynamic"
	TimeoutMs          int    `yaml:"timeout_ms"`
	MaxCTO             int    `yaml:"max_cto"`
	MaxDTO             int    `yaml:"max_dto"`
	TickMs             int    `yaml:"tick_ms"`
	QueueCapacity      int    `yaml:"queue_capacity"`
	MaxRetries         int    `yaml:"max_retries"` // 0 requeues forever
	DaqHoldsCommand    bool   `yaml:"daq_holds_command,omitempty"`
	SlaveOrderValues   bool   `yaml:"slave_order_values,omitempty"`
}

// EventConfig names a slave event channel.
type EventConfig struct {
	Name    string `yaml:"name"`
	Channel uint16 `yaml:"channel"`
	RateMs  int    `yaml:"rate_ms"`
}

// SignalConfig is one observed variable.
type SignalConfig struct {
	Name          string  `yaml:"name"`
	Address       Address `yaml:"address"`
	Extension     uint8   `yaml:"extension,omitempty"`
	Size          int     `yaml:"size"`
	Type          string  `yaml:"type"`
	Trigger       string  `yaml:"trigger"` // "polling" or "event"
	PollingRateMs int     `yaml:"polling_rate_ms,omitempty"`
	Event         string  `yaml:"event,omitempty"`
	Float         bool    `yaml:"float,omitempty"`
	Selected      *bool   `yaml:"selected,omitempty"`
}

// IsSelected reports whether the signal takes part in acquisition.
func (s SignalConfig) IsSelected() bool {
	return s.Selected == nil || *s.Selected
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file,omitempty"`
	Format string `yaml:"format,omitempty"` // "text" or "json"
}

// OutputConfig names the artifacts of a recording.
type OutputConfig struct {
	MetricsFile string `yaml:"metrics_file,omitempty"`
	SamplesFile string `yaml:"samples_file,omitempty"`
	PCAPFile    string `yaml:"pcap_file,omitempty"`
	Directory   string `yaml:"directory,omitempty"`
}

// Config is the xcpmaster project file.
type Config struct {
	Ethernet EthernetConfig `yaml:"ethernet"`
	XCP      XCPConfig      `yaml:"xcp"`
	Events   []EventConfig  `yaml:"events"`
	Signals  []SignalConfig `yaml:"signals"`
	Logging  LoggingConfig  `yaml:"logging"`
	Output   OutputConfig   `yaml:"output,omitempty"`
}

// CreateDefaultConfig returns a config that talks to a local simulator.
func CreateDefaultConfig() *Config {
	cfg := &Config{
		Events: []EventConfig{
			{Name: "10ms", Channel: 0, RateMs: 10},
			{Name: "100ms", Channel: 1, RateMs: 100},
		},
		Signals: []SignalConfig{
			{Name: "engine_speed", Address: 0x1000, Size: 2, Type: "unsigned short", Trigger: "polling", PollingRateMs: 100},
			{Name: "coolant_temp", Address: 0x1004, Size: 2, Type: "short", Trigger: "polling", PollingRateMs: 1000},
			{Name: "cycle_counter", Address: 0x2000, Size: 4, Type: "unsigned int", Trigger: "event", Event: "10ms"},
			{Name: "torque", Address: 0x2004, Size: 4, Type: "int", Trigger: "event", Event: "100ms"},
			{Name: "idle_offset", Address: 0x3000, Size: 2, Type: "short", Trigger: "polling", PollingRateMs: 1000},
		},
		Output: OutputConfig{
			MetricsFile: "xcp_metrics.csv",
			SamplesFile: "xcp_samples.csv",
		},
	}
	applyDefaults(cfg)
	return cfg
}

// WriteDefaultConfig writes CreateDefaultConfig to path.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(CreateDefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// LoadConfig reads and validates a config file. When the file does not exist
// and autoCreate is set, a default config is written first.
func LoadConfig(path string, autoCreate bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.WrapConfigError(fmt.Errorf("read config file: %w", err), path)
		}
		if !autoCreate {
			return nil, errors.WrapConfigError(fmt.Errorf("config file not found: %s", path), path)
		}
		if err := WriteDefaultConfig(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapConfigError(fmt.Errorf("read created config file: %w", err), path)
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WrapConfigError(err, path)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates YAML config data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	applyDefaults(&cfg)
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	eth := &cfg.Ethernet
	if eth.SlaveIP == "" {
		eth.SlaveIP = "127.0.0.1"
	}
	if eth.SlavePort == 0 {
		eth.SlavePort = 5555
	}
	if eth.Protocol == "" {
		eth.Protocol = "udp"
	}

	x := &cfg.XCP
	if x.Version == "" {
		x.Version = "1.0"
	}
	if x.Endian == "" {
		x.Endian = "little"
	}
	if x.AddressGranularity == "" {
		x.AddressGranularity = "byte"
	}
	if x.DaqMode == "" {
		x.DaqMode = "dynamic"
	}
	if x.TimeoutMs == 0 {
		x.TimeoutMs = 500
	}
	if x.MaxCTO == 0 {
		x.MaxCTO = protocol.MinCTO
	}
	if x.MaxDTO == 0 {
		x.MaxDTO = protocol.MinCTO
	}
	if x.TickMs == 0 {
		x.TickMs = 10
	}
	if x.QueueCapacity == 0 {
		x.QueueCapacity = 100
	}

	for i := range cfg.Signals {
		s := &cfg.Signals[i]
		if s.Trigger == "" {
			s.Trigger = "polling"
		}
		if s.Trigger == "polling" && s.PollingRateMs == 0 {
			s.PollingRateMs = 1000
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

var supportedVersions = map[string]bool{"1.0": true, "1.1": true, "1.2": true, "1.3": true, "1.4": true}

// ValidateConfig checks every section and names the offending field.
func ValidateConfig(cfg *Config) error {
	if err := validateEthernet(cfg.Ethernet); err != nil {
		return err
	}
	if err := validateXCP(cfg.XCP); err != nil {
		return err
	}

	events := make(map[string]bool, len(cfg.Events))
	channels := make(map[uint16]bool, len(cfg.Events))
	for i, ev := range cfg.Events {
		if ev.Name == "" {
			return fmt.Errorf("events[%d]: name is required", i)
		}
		if events[ev.Name] {
			return fmt.Errorf("events[%d]: duplicate name %q", i, ev.Name)
		}
		if channels[ev.Channel] {
			return fmt.Errorf("events[%d]: channel %d already used", i, ev.Channel)
		}
		if ev.RateMs < 0 {
			return fmt.Errorf("events[%d]: rate_ms must be >= 0", i)
		}
		events[ev.Name] = true
		channels[ev.Channel] = true
	}

	if len(cfg.Signals) == 0 {
		return fmt.Errorf("at least one signal must be configured")
	}
	names := make(map[string]bool, len(cfg.Signals))
	addresses := make(map[Address]string, len(cfg.Signals))
	for i, s := range cfg.Signals {
		if err := validateSignal(s, i, events); err != nil {
			return err
		}
		if names[s.Name] {
			return fmt.Errorf("signals[%d]: duplicate name %q", i, s.Name)
		}
		if other, dup := addresses[s.Address]; dup {
			return fmt.Errorf("signals[%d]: address 0x%08X already used by %s", i, uint32(s.Address), other)
		}
		names[s.Name] = true
		addresses[s.Address] = s.Name
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if f := cfg.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", f)
	}
	return nil
}

func validateEthernet(eth EthernetConfig) error {
	switch strings.ToLower(eth.Protocol) {
	case "udp":
	case "tcp":
		return fmt.Errorf("ethernet.protocol: tcp transport is not supported, use udp")
	default:
		return fmt.Errorf("ethernet.protocol must be 'udp', got %q", eth.Protocol)
	}
	if eth.SlaveIP == "" {
		return fmt.Errorf("ethernet.slave_ip is required")
	}
	if eth.SlavePort <= 0 || eth.SlavePort > 65535 {
		return fmt.Errorf("ethernet.slave_port must be 1-65535, got %d", eth.SlavePort)
	}
	if eth.HostIP != "" && net.ParseIP(eth.HostIP) == nil {
		return fmt.Errorf("ethernet.host_ip %q is not an IP address", eth.HostIP)
	}
	if eth.HostPort < 0 || eth.HostPort > 65535 {
		return fmt.Errorf("ethernet.host_port must be 0-65535, got %d", eth.HostPort)
	}
	if eth.TOS < 0 || eth.TOS > 255 {
		return fmt.Errorf("ethernet.tos must be 0-255, got %d", eth.TOS)
	}
	if eth.TTL < 0 || eth.TTL > 255 {
		return fmt.Errorf("ethernet.ttl must be 0-255, got %d", eth.TTL)
	}
	return nil
}

func validateXCP(x XCPConfig) error {
	if !supportedVersions[x.Version] {
		return fmt.Errorf("xcp.version must be 1.0 to 1.4, got %q", x.Version)
	}
	if x.Endian != "little" && x.Endian != "big" {
		return fmt.Errorf("xcp.endian must be 'little' or 'big', got %q", x.Endian)
	}
	if _, err := parseGranularity(x.AddressGranularity); err != nil {
		return err
	}
	switch x.DaqMode {
	case "dynamic":
	case "static":
		return fmt.Errorf("xcp.daq_mode: static DAQ configuration is not supported")
	default:
		return fmt.Errorf("xcp.daq_mode must be 'dynamic', got %q", x.DaqMode)
	}
	if x.TimeoutMs < 0 {
		return fmt.Errorf("xcp.timeout_ms must be > 0")
	}
	if x.MaxCTO < protocol.MinCTO || x.MaxCTO > 255 {
		return fmt.Errorf("xcp.max_cto must be %d-255, got %d", protocol.MinCTO, x.MaxCTO)
	}
	if x.MaxDTO < protocol.MinCTO || x.MaxDTO > 65535 {
		return fmt.Errorf("xcp.max_dto must be %d-65535, got %d", protocol.MinCTO, x.MaxDTO)
	}
	if x.TickMs < 0 {
		return fmt.Errorf("xcp.tick_ms must be > 0")
	}
	if x.QueueCapacity < 0 {
		return fmt.Errorf("xcp.queue_capacity must be > 0")
	}
	if x.MaxRetries < 0 {
		return fmt.Errorf("xcp.max_retries must be >= 0")
	}
	return nil
}

func validateSignal(s SignalConfig, index int, events map[string]bool) error {
	if s.Name == "" {
		return fmt.Errorf("signals[%d]: name is required", index)
	}
	if s.Size <= 0 || s.Size > signal.MaxSize {
		return fmt.Errorf("signals[%d] (%s): size must be 1-%d, got %d", index, s.Name, signal.MaxSize, s.Size)
	}
	trigger, err := signal.ParseTrigger(s.Trigger)
	if err != nil {
		return fmt.Errorf("signals[%d] (%s): %w", index, s.Name, err)
	}
	if trigger == signal.TriggerEvent {
		if s.Event == "" {
			return fmt.Errorf("signals[%d] (%s): event is required when trigger is 'event'", index, s.Name)
		}
		if !events[s.Event] {
			return fmt.Errorf("signals[%d] (%s): unknown event %q", index, s.Name, s.Event)
		}
	}
	if s.PollingRateMs < 0 {
		return fmt.Errorf("signals[%d] (%s): polling_rate_ms must be >= 0", index, s.Name)
	}
	if s.Float && s.Size != 4 && s.Size != 8 {
		return fmt.Errorf("signals[%d] (%s): float signals must be 4 or 8 bytes", index, s.Name)
	}
	return nil
}

func parseGranularity(s string) (protocol.AddressGranularity, error) {
	switch s {
	case "byte":
		return protocol.GranularityByte, nil
	case "word":
		return protocol.GranularityWord, nil
	case "dword":
		return protocol.GranularityDWord, nil
	default:
		return 0, fmt.Errorf("xcp.address_granularity must be byte, word or dword, got %q", s)
	}
}

// SlaveAddress returns the slave host:port.
func (c *Config) SlaveAddress() string {
	return net.JoinHostPort(c.Ethernet.SlaveIP, strconv.Itoa(c.Ethernet.SlavePort))
}

// ByteOrder returns the host byte order used before CONNECT.
func (c *Config) ByteOrder() binary.ByteOrder {
	if c.XCP.Endian == "big" {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Timeout returns the per-command response timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.XCP.TimeoutMs) * time.Millisecond
}

// Tick returns the send-loop period.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.XCP.TickMs) * time.Millisecond
}

// TransportConfig returns the UDP transport settings.
func (c *Config) TransportConfig() transport.Config {
	local := ""
	if c.Ethernet.HostIP != "" || c.Ethernet.HostPort != 0 {
		local = net.JoinHostPort(c.Ethernet.HostIP, strconv.Itoa(c.Ethernet.HostPort))
	}
	return transport.Config{
		LocalAddr: local,
		Order:     c.ByteOrder(),
		TOS:       c.Ethernet.TOS,
		TTL:       c.Ethernet.TTL,
	}
}

// EventRates maps event channels to their cycle time.
func (c *Config) EventRates() map[uint16]time.Duration {
	rates := make(map[uint16]time.Duration, len(c.Events))
	for _, ev := range c.Events {
		rates[ev.Channel] = time.Duration(ev.RateMs) * time.Millisecond
	}
	return rates
}

// Signals converts the selected signals, resolving event names to channels.
func (c *Config) Signals() ([]signal.Signal, error) {
	channels := make(map[string]uint16, len(c.Events))
	for _, ev := range c.Events {
		channels[ev.Name] = ev.Channel
	}

	var out []signal.Signal
	for i, s := range c.Signals {
		if !s.IsSelected() {
			continue
		}
		trigger, err := signal.ParseTrigger(s.Trigger)
		if err != nil {
			return nil, fmt.Errorf("signals[%d] (%s): %w", i, s.Name, err)
		}
		sig := signal.Signal{
			Name:        s.Name,
			Address:     uint32(s.Address),
			Extension:   s.Extension,
			Size:        s.Size,
			TypeName:    s.Type,
			Trigger:     trigger,
			PollingRate: time.Duration(s.PollingRateMs) * time.Millisecond,
			Float:       s.Float,
		}
		if trigger == signal.TriggerEvent {
			ch, ok := channels[s.Event]
			if !ok {
				return nil, fmt.Errorf("signals[%d] (%s): unknown event %q", i, s.Name, s.Event)
			}
			sig.EventChannel = ch
		}
		out = append(out, sig)
	}
	return out, nil
}

// AddressGranularity returns the configured host granularity.
func (c *Config) AddressGranularity() protocol.AddressGranularity {
	g, _ := parseGranularity(c.XCP.AddressGranularity)
	return g
}
