package config

import (
	"fmt"

	"titanfabric/internal/logging"
)

// RollbackToVersion makes version V the live configuration for (type,key)
// and appends a new version recording the rollback. The history stays
// append-only: after rolling back from latest N to V, the recorded version
// is N+1, not V+1.
func (m *Manager) RollbackToVersion(t ConfigType, key string, version int) (ConfigVersion, error) {
	target, err := m.history.GetVersion(t, key, version)
	if err != nil {
		return ConfigVersion{}, err
	}

	if err := m.applyPayload(t, key, target.Payload); err != nil {
		return ConfigVersion{}, err
	}

	v, err := m.history.Append(t, key, target.Payload, "rollback",
		fmt.Sprintf("rollback to version %d", version), []string{"rollback"})
	if err != nil {
		return ConfigVersion{}, err
	}
	logging.Config("%s/%s rolled back to version %d (recorded as version %d)", t, key, version, v.Version)
	return v, nil
}

// applyPayload installs a raw payload as the live config for (type,key),
// running the same validation and cross-checks as a fresh load.
func (m *Manager) applyPayload(t ConfigType, key string, payload map[string]interface{}) error {
	switch t {
	case TypeBrain:
		var cfg BrainConfig
		if err := decodeInto(payload, &cfg); err != nil {
			return err
		}
		if err := schemaValidator.Struct(cfg); err != nil {
			return fmt.Errorf("config: invalid brain configuration: %w", err)
		}
		m.mu.Lock()
		for name, phase := range m.phases {
			if breach := checkLimits(name, phase, &cfg); breach != nil {
				m.mu.Unlock()
				return breach
			}
		}
		old := m.brain
		m.brain = &cfg
		m.brainRaw = payload
		m.mu.Unlock()
		m.events.emit(Event{Kind: EventChanged, Type: t, Key: key, Old: old, New: cfg})
		return nil

	case TypePhase:
		var cfg PhaseConfig
		if err := decodeInto(payload, &cfg); err != nil {
			return err
		}
		if err := schemaValidator.Struct(cfg); err != nil {
			return fmt.Errorf("config: invalid %s configuration: %w", key, err)
		}
		m.mu.Lock()
		if m.brain != nil {
			if breach := checkLimits(key, &cfg, m.brain); breach != nil {
				m.mu.Unlock()
				return breach
			}
		}
		old := clonePhase(m.phases[key])
		m.phases[key] = &cfg
		m.mu.Unlock()
		m.events.emit(Event{Kind: EventChanged, Type: t, Key: key, Old: old, New: cfg})
		return nil

	default:
		m.mu.Lock()
		old := m.services[key]
		m.services[key] = ServiceConfig(payload)
		m.mu.Unlock()
		m.events.emit(Event{Kind: EventChanged, Type: t, Key: key, Old: old, New: ServiceConfig(payload)})
		return nil
	}
}
