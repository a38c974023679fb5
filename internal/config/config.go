// Package config implements the hierarchical configuration manager of the
// titan fabric: overlay loading (defaults, environment file, brain override,
// operator supplied), schema validation, global-limit cross-checks, hot
// reload with debounce, and an append-only version history with rollback.
//
// On-disk layout, rooted at the manager's directory:
//
//	<root>/defaults/brain.yaml
//	<root>/defaults/phases/<phase>.yaml
//	<root>/defaults/services/<service>.yaml
//	<root>/<env>/...          (same shape, selected by TITAN_ENV)
//	<root>/.history/          (one file per (type,key), append-only)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"titanfabric/internal/logging"
)

// ConfigType partitions the version history and load paths.
type ConfigType string

const (
	TypeBrain   ConfigType = "brain"
	TypePhase   ConfigType = "phase"
	TypeService ConfigType = "service"
)

// BrainKey is the history key of the singleton brain config.
const BrainKey = "brain"

// EnvTag selects the environment overlay directory.
const EnvTag = "TITAN_ENV"

// ErrLimitBreach marks a fatal load failure: a phase exceeds the brain's
// global caps. Hot-reload failures retain the previous value.
var ErrLimitBreach = errors.New("config: phase exceeds brain limits")

// BrainConfig carries the global risk bounds plus partial per-phase
// overrides (phase name to override map).
type BrainConfig struct {
	MaxTotalLeverage  float64                           `yaml:"maxTotalLeverage" json:"maxTotalLeverage" validate:"required,gt=0"`
	MaxGlobalDrawdown float64                           `yaml:"maxGlobalDrawdown" json:"maxGlobalDrawdown" validate:"required,gt=0,lte=1"`
	Phases            map[string]map[string]interface{} `yaml:"phases" json:"phases"`
}

// PhaseConfig carries per-phase runtime parameters.
type PhaseConfig struct {
	MaxLeverage float64                `yaml:"maxLeverage" json:"maxLeverage" validate:"required,gt=0"`
	MaxDrawdown float64                `yaml:"maxDrawdown" json:"maxDrawdown" validate:"required,gt=0,lte=1"`
	Thresholds  map[string]float64     `yaml:"thresholds" json:"thresholds"`
	Params      map[string]interface{} `yaml:"params" json:"params"`
}

// ServiceConfig is the opaque key-value config of a leaf service.
type ServiceConfig map[string]interface{}

// LoadResult pairs a merged config with per-key source attribution and
// non-fatal validation warnings.
type LoadResult struct {
	Config   map[string]interface{}
	Sources  map[string]string
	Warnings []string
}

var schemaValidator = validator.New(validator.WithRequiredStructEnabled())

// Manager owns the loaded configuration state. All methods are safe for
// concurrent use.
type Manager struct {
	mu      sync.RWMutex
	root    string
	env     string
	history *HistoryStore

	brain    *BrainConfig
	brainRaw map[string]interface{}
	phases   map[string]*PhaseConfig
	services map[string]ServiceConfig

	// operator overlays are remembered so hot reload re-applies them.
	brainOverride   map[string]interface{}
	phaseOverrides  map[string]map[string]interface{}
	serviceOverride map[string]map[string]interface{}

	events  *eventRegistry
	watcher *watcher
}

// NewManager creates a manager rooted at dir. The environment overlay comes
// from TITAN_ENV when env is empty.
func NewManager(dir, env string) (*Manager, error) {
	if env == "" {
		env = os.Getenv(EnvTag)
	}
	hs, err := NewHistoryStore(filepath.Join(dir, ".history"))
	if err != nil {
		return nil, err
	}
	return &Manager{
		root:            dir,
		env:             env,
		history:         hs,
		phases:          make(map[string]*PhaseConfig),
		services:        make(map[string]ServiceConfig),
		phaseOverrides:  make(map[string]map[string]interface{}),
		serviceOverride: make(map[string]map[string]interface{}),
		events:          newEventRegistry(),
	}, nil
}

// History exposes the version history store.
func (m *Manager) History() *HistoryStore { return m.history }

// Env returns the active environment tag.
func (m *Manager) Env() string { return m.env }

// readLayer loads one YAML file as a generic map. A missing file is an
// empty layer, not an error.
func readLayer(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var out map[string]interface{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return normalizeMap(out), nil
}

// normalizeMap rewrites yaml's map[interface{}]interface{} values (nested
// documents) into map[string]interface{} so merging and JSON encoding work.
func normalizeMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeMap(val)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

// decodeInto re-marshals a generic map into a typed struct.
func decodeInto(m map[string]interface{}, out interface{}) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("config: encode merged: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: decode merged: %w", err)
	}
	return nil
}

func (m *Manager) defaultsPath(t ConfigType, key string) string {
	return m.layerPath("defaults", t, key)
}

func (m *Manager) envPath(t ConfigType, key string) string {
	if m.env == "" {
		return ""
	}
	return m.layerPath(m.env, t, key)
}

func (m *Manager) layerPath(base string, t ConfigType, key string) string {
	switch t {
	case TypeBrain:
		return filepath.Join(m.root, base, "brain.yaml")
	case TypePhase:
		return filepath.Join(m.root, base, "phases", key+".yaml")
	default:
		return filepath.Join(m.root, base, "services", key+".yaml")
	}
}

// loadLayers assembles the overlay chain for one entity.
func (m *Manager) loadLayers(t ConfigType, key string, brainOverride, operator map[string]interface{}) (LoadResult, error) {
	var res LoadResult
	res.Sources = map[string]string{}

	defaults, err := readLayer(m.defaultsPath(t, key))
	if err != nil {
		return res, err
	}
	var envLayer map[string]interface{}
	if p := m.envPath(t, key); p != "" {
		envLayer, err = readLayer(p)
		if err != nil {
			return res, err
		}
	}

	res.Config = mergeLayers(res.Sources,
		layer{"defaults", defaults},
		layer{"environment", envLayer},
		layer{"brain-override", brainOverride},
		layer{"operator", operator},
	)
	if len(res.Config) == 0 {
		return res, fmt.Errorf("config: no configuration found for %s/%s", t, key)
	}
	return res, nil
}

// LoadBrain loads the brain config through the overlay chain, validates it
// and appends a history version.
func (m *Manager) LoadBrain(operator map[string]interface{}) (*BrainConfig, LoadResult, error) {
	res, err := m.loadLayers(TypeBrain, BrainKey, nil, operator)
	if err != nil {
		return nil, res, err
	}

	var cfg BrainConfig
	if err := decodeInto(res.Config, &cfg); err != nil {
		return nil, res, err
	}
	if err := schemaValidator.Struct(cfg); err != nil {
		return nil, res, fmt.Errorf("config: invalid brain configuration: %w", err)
	}
	res.Warnings = append(res.Warnings, warnUnknownKeys(res.Config, "maxTotalLeverage", "maxGlobalDrawdown", "phases")...)

	// A brain reload must not strand already-loaded phases above the new
	// caps.
	m.mu.RLock()
	for name, phase := range m.phases {
		if breach := checkLimits(name, phase, &cfg); breach != nil {
			m.mu.RUnlock()
			return nil, res, breach
		}
	}
	m.mu.RUnlock()

	old := m.snapshotBrain()
	m.mu.Lock()
	m.brain = &cfg
	m.brainRaw = res.Config
	m.brainOverride = operator
	m.mu.Unlock()

	if _, err := m.history.Append(TypeBrain, BrainKey, res.Config, "loader", "load", nil); err != nil {
		logging.ConfigWarn("history append failed for brain: %v", err)
	}
	m.events.emit(Event{Kind: EventChanged, Type: TypeBrain, Key: BrainKey, Old: old, New: cfg})
	logging.Config("brain config loaded (maxTotalLeverage=%v maxGlobalDrawdown=%v)", cfg.MaxTotalLeverage, cfg.MaxGlobalDrawdown)
	return &cfg, res, nil
}

// LoadPhase loads one phase through the overlay chain (including the brain's
// per-phase override), validates it and cross-checks the brain's global
// caps. A breach is a fatal load failure.
func (m *Manager) LoadPhase(name string, operator map[string]interface{}) (*PhaseConfig, LoadResult, error) {
	m.mu.RLock()
	var brainOverride map[string]interface{}
	if m.brain != nil {
		brainOverride = m.brain.Phases[name]
	}
	brain := m.brain
	m.mu.RUnlock()

	res, err := m.loadLayers(TypePhase, name, brainOverride, operator)
	if err != nil {
		return nil, res, err
	}

	var cfg PhaseConfig
	if err := decodeInto(res.Config, &cfg); err != nil {
		return nil, res, err
	}
	if err := schemaValidator.Struct(cfg); err != nil {
		return nil, res, fmt.Errorf("config: invalid %s configuration: %w", name, err)
	}
	res.Warnings = append(res.Warnings, warnUnknownKeys(res.Config, "maxLeverage", "maxDrawdown", "thresholds", "params")...)

	if brain != nil {
		if breach := checkLimits(name, &cfg, brain); breach != nil {
			return nil, res, breach
		}
	}

	m.mu.Lock()
	old := clonePhase(m.phases[name])
	m.phases[name] = &cfg
	m.phaseOverrides[name] = operator
	m.mu.Unlock()

	if _, err := m.history.Append(TypePhase, name, res.Config, "loader", "load", nil); err != nil {
		logging.ConfigWarn("history append failed for phase %s: %v", name, err)
	}
	m.events.emit(Event{Kind: EventChanged, Type: TypePhase, Key: name, Old: old, New: cfg})
	logging.Config("phase %s loaded (maxLeverage=%v maxDrawdown=%v)", name, cfg.MaxLeverage, cfg.MaxDrawdown)
	return &cfg, res, nil
}

// LoadService loads an opaque leaf-service config.
func (m *Manager) LoadService(name string, operator map[string]interface{}) (ServiceConfig, LoadResult, error) {
	res, err := m.loadLayers(TypeService, name, nil, operator)
	if err != nil {
		return nil, res, err
	}

	cfg := ServiceConfig(res.Config)

	m.mu.Lock()
	old := m.services[name]
	m.services[name] = cfg
	m.serviceOverride[name] = operator
	m.mu.Unlock()

	if _, err := m.history.Append(TypeService, name, res.Config, "loader", "load", nil); err != nil {
		logging.ConfigWarn("history append failed for service %s: %v", name, err)
	}
	m.events.emit(Event{Kind: EventChanged, Type: TypeService, Key: name, Old: old, New: cfg})
	return cfg, res, nil
}

// checkLimits enforces the brain's global caps over one phase.
func checkLimits(name string, phase *PhaseConfig, brain *BrainConfig) error {
	if phase.MaxLeverage > brain.MaxTotalLeverage || phase.MaxDrawdown > brain.MaxGlobalDrawdown {
		return fmt.Errorf("%w: Invalid %s configuration after brain overrides", ErrLimitBreach, name)
	}
	return nil
}

// warnUnknownKeys surfaces keys outside the schema without failing the load.
func warnUnknownKeys(cfg map[string]interface{}, known ...string) []string {
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}
	var warnings []string
	for k := range cfg {
		if _, ok := knownSet[k]; !ok {
			warnings = append(warnings, fmt.Sprintf("unknown key %q ignored by schema", k))
		}
	}
	return warnings
}

// Brain returns the loaded brain config, if any.
func (m *Manager) Brain() *BrainConfig {
	return m.snapshotBrain()
}

func (m *Manager) snapshotBrain() *BrainConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.brain == nil {
		return nil
	}
	cp := *m.brain
	return &cp
}

// Phase returns a loaded phase config, if any.
func (m *Manager) Phase(name string) *PhaseConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clonePhase(m.phases[name])
}

func clonePhase(p *PhaseConfig) *PhaseConfig {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Service returns a loaded service config, if any.
func (m *Manager) Service(name string) ServiceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.services[name]
}

// Subscribe registers a listener channel for config events.
func (m *Manager) Subscribe(ch chan Event) {
	m.events.subscribe(ch)
}
