package config

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	aerr "github.com/vinayprograms/admitkit/errors"
	"github.com/vinayprograms/admitkit/gate"
	"github.com/vinayprograms/admitkit/ledger"
	"github.com/vinayprograms/admitkit/orchestrator"
	"github.com/vinayprograms/admitkit/ratelimit"
	"github.com/vinayprograms/admitkit/service"
	"github.com/vinayprograms/admitkit/telemetry"
)

// Supported formats.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
)

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

// UnmarshalText parses TOML strings.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return aerr.Configuration("invalid duration %q", string(text))
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML parses YAML scalars.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// File is the on-disk configuration.
type File struct {
	ShutdownGracePeriod Duration                `toml:"shutdown_grace_period" yaml:"shutdown_grace_period"`
	Services            map[string]ServiceFile  `toml:"services" yaml:"services"`
	Gates               map[string]GateFile     `toml:"gates" yaml:"gates"`
	Telemetry           TelemetryFile           `toml:"telemetry" yaml:"telemetry"`
	Prices              map[string]ledger.Price `toml:"prices" yaml:"prices"`
}

// TelemetryFile configures trace export. An empty endpoint defers to
// OTEL_EXPORTER_OTLP_ENDPOINT.
type TelemetryFile struct {
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	Protocol    string  `toml:"protocol" yaml:"protocol"`
	Insecure    bool    `toml:"insecure" yaml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio"`
	Debug       bool    `toml:"debug" yaml:"debug"`
}

// ServiceFile configures one service. Set either RefillRate in units per
// second or RefillInterval, the time to refill the full capacity.
type ServiceFile struct {
	Capacity        float64  `toml:"capacity" yaml:"capacity"`
	RefillRate      float64  `toml:"refill_rate" yaml:"refill_rate"`
	RefillInterval  Duration `toml:"refill_interval" yaml:"refill_interval"`
	MaxQueueDepth   int      `toml:"max_queue_depth" yaml:"max_queue_depth"`
	WorkerCount     int      `toml:"worker_count" yaml:"worker_count"`
	QueueFullPolicy string   `toml:"queue_full_policy" yaml:"queue_full_policy"`
}

// GateFile configures one gate.
type GateFile struct {
	Capacity int `toml:"capacity" yaml:"capacity"`
}

// Load reads and validates a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, aerr.WrapWithCode(err, aerr.CodeConfiguration, "read config "+path)
	}

	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = FormatTOML
	case ".yaml", ".yml":
		format = FormatYAML
	default:
		return nil, aerr.Configuration("unsupported config file type %q", filepath.Ext(path))
	}

	f, err := Parse(data, format)
	if err != nil {
		return nil, aerr.Wrap(err, "config "+path)
	}
	return f, nil
}

// Parse decodes and validates configuration in the given format.
func Parse(data []byte, format string) (*File, error) {
	var f File
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, aerr.WrapWithCode(err, aerr.CodeConfiguration, "parse toml")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, aerr.Configuration("unknown config keys: %s", strings.Join(keys, ", "))
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, aerr.WrapWithCode(err, aerr.CodeConfiguration, "parse yaml")
		}
	default:
		return nil, aerr.Configuration("unsupported config format %q", format)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every service and gate.
func (f *File) Validate() error {
	if len(f.Services) == 0 {
		return aerr.Configuration("no services configured")
	}
	if err := f.Orchestrator().Validate(); err != nil {
		return err
	}
	for name, sf := range f.Services {
		cfg, err := sf.Config()
		if err != nil {
			return aerr.Wrap(err, "service "+name, aerr.WithService(name))
		}
		if err := cfg.Validate(); err != nil {
			return aerr.Wrap(err, "service "+name, aerr.WithService(name))
		}
	}
	for name, gf := range f.Gates {
		if err := gf.Config().Validate(); err != nil {
			return aerr.Wrap(err, "gate "+name)
		}
	}
	if r := f.Telemetry.SampleRatio; r < 0 || r > 1 {
		return aerr.Configuration("telemetry sample_ratio %v outside [0, 1]", r)
	}
	for model, p := range f.Prices {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return aerr.Configuration("price for %q must not be negative", model)
		}
	}
	return nil
}

// TracingConfig returns the trace provider configuration for serviceName,
// tagged with the configured services and gates.
func (f *File) TracingConfig(serviceName string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName: serviceName,
		Endpoint:    f.Telemetry.Endpoint,
		Protocol:    f.Telemetry.Protocol,
		Insecure:    f.Telemetry.Insecure,
		SampleRatio: f.Telemetry.SampleRatio,
		Debug:       f.Telemetry.Debug,
		Services:    sortedKeys(f.Services),
		Gates:       sortedKeys(f.Gates),
	}
}

// LedgerPrices returns the default price table overlaid with the
// configured prices.
func (f *File) LedgerPrices() ledger.Prices {
	prices := ledger.DefaultPrices()
	for model, p := range f.Prices {
		prices[model] = p
	}
	return prices
}

// Orchestrator returns the orchestrator-level configuration.
func (f *File) Orchestrator() orchestrator.Config {
	return orchestrator.Config{ShutdownGracePeriod: time.Duration(f.ShutdownGracePeriod)}
}

// Config converts the file section to a service configuration.
func (sf ServiceFile) Config() (service.Config, error) {
	rate := sf.RefillRate
	if sf.RefillInterval != 0 {
		if rate != 0 {
			return service.Config{}, aerr.Configuration("set refill_rate or refill_interval, not both")
		}
		if sf.RefillInterval < 0 {
			return service.Config{}, aerr.Configuration("refill_interval must be positive")
		}
		rate = sf.Capacity / time.Duration(sf.RefillInterval).Seconds()
	}

	return service.Config{
		Limiter: ratelimit.Config{
			Capacity:   sf.Capacity,
			RefillRate: rate,
		},
		MaxQueueDepth:   sf.MaxQueueDepth,
		WorkerCount:     sf.WorkerCount,
		QueueFullPolicy: service.QueueFullPolicy(sf.QueueFullPolicy),
	}, nil
}

// Config converts the file section to a gate configuration.
func (gf GateFile) Config() gate.Config {
	return gate.Config{Capacity: gf.Capacity}
}

// Specs builds orchestrator specs in name order. Every configured service
// needs an executor; executors for unconfigured services are an error too.
func (f *File) Specs(executors map[string]service.Executor) ([]orchestrator.ServiceSpec, []orchestrator.GateSpec, error) {
	for name := range executors {
		if _, ok := f.Services[name]; !ok {
			return nil, nil, aerr.Configuration("executor for unconfigured service %q", name)
		}
	}

	services := make([]orchestrator.ServiceSpec, 0, len(f.Services))
	for _, name := range sortedKeys(f.Services) {
		exec, ok := executors[name]
		if !ok || exec == nil {
			return nil, nil, aerr.Configuration("no executor for service %q", name)
		}
		cfg, err := f.Services[name].Config()
		if err != nil {
			return nil, nil, aerr.Wrap(err, "service "+name, aerr.WithService(name))
		}
		services = append(services, orchestrator.ServiceSpec{Name: name, Config: cfg, Executor: exec})
	}

	gates := make([]orchestrator.GateSpec, 0, len(f.Gates))
	for _, name := range sortedKeys(f.Gates) {
		gates = append(gates, orchestrator.GateSpec{Name: name, Config: f.Gates[name].Config()})
	}
	return services, gates, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
