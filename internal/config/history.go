package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"titanfabric/internal/envelope"
)

// ConfigVersion is one append-only history entry for a (type,key) pair.
// Version numbers are strictly increasing and never reused, including
// across rollbacks.
type ConfigVersion struct {
	Version   int                    `json:"version"`
	Payload   map[string]interface{} `json:"payload"`
	Author    string                 `json:"author"`
	Comment   string                 `json:"comment"`
	Tags      []string               `json:"tags,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Hash      string                 `json:"hash"`
}

// HistoryStore persists version histories, one JSON file per (type,key),
// under a hidden .history directory.
type HistoryStore struct {
	mu  sync.Mutex
	dir string
}

// NewHistoryStore creates the backing directory if needed.
func NewHistoryStore(dir string) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create history dir: %w", err)
	}
	return &HistoryStore{dir: dir}, nil
}

func (h *HistoryStore) file(t ConfigType, key string) string {
	return filepath.Join(h.dir, fmt.Sprintf("%s__%s.json", t, key))
}

func (h *HistoryStore) load(t ConfigType, key string) ([]ConfigVersion, error) {
	data, err := os.ReadFile(h.file(t, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read history %s/%s: %w", t, key, err)
	}
	var versions []ConfigVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, fmt.Errorf("config: parse history %s/%s: %w", t, key, err)
	}
	return versions, nil
}

func (h *HistoryStore) save(t ConfigType, key string, versions []ConfigVersion) error {
	data, err := json.MarshalIndent(versions, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode history %s/%s: %w", t, key, err)
	}
	if err := os.WriteFile(h.file(t, key), data, 0o644); err != nil {
		return fmt.Errorf("config: write history %s/%s: %w", t, key, err)
	}
	return nil
}

// contentHash digests the canonical JSON rendering of a payload.
func contentHash(payload map[string]interface{}) string {
	canon, err := envelope.Canonicalize(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

// Append stores a new version with the next number and returns it.
func (h *HistoryStore) Append(t ConfigType, key string, payload map[string]interface{}, author, comment string, tags []string) (ConfigVersion, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	versions, err := h.load(t, key)
	if err != nil {
		return ConfigVersion{}, err
	}

	next := 1
	if n := len(versions); n > 0 {
		next = versions[n-1].Version + 1
	}
	v := ConfigVersion{
		Version:   next,
		Payload:   payload,
		Author:    author,
		Comment:   comment,
		Tags:      tags,
		Timestamp: time.Now().UTC(),
		Hash:      contentHash(payload),
	}
	versions = append(versions, v)
	if err := h.save(t, key, versions); err != nil {
		return ConfigVersion{}, err
	}
	return v, nil
}

// GetVersion fetches one version by number.
func (h *HistoryStore) GetVersion(t ConfigType, key string, version int) (ConfigVersion, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	versions, err := h.load(t, key)
	if err != nil {
		return ConfigVersion{}, err
	}
	for _, v := range versions {
		if v.Version == version {
			return v, nil
		}
	}
	return ConfigVersion{}, fmt.Errorf("config: version %d not found for %s/%s", version, t, key)
}

// GetAllVersions returns the full history, oldest first.
func (h *HistoryStore) GetAllVersions(t ConfigType, key string) ([]ConfigVersion, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(t, key)
}

// Latest returns the newest version, or false when the history is empty.
func (h *HistoryStore) Latest(t ConfigType, key string) (ConfigVersion, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	versions, err := h.load(t, key)
	if err != nil || len(versions) == 0 {
		return ConfigVersion{}, false, err
	}
	return versions[len(versions)-1], true, nil
}

// SearchQuery filters a history. Zero fields match everything.
type SearchQuery struct {
	Author  string
	Tags    []string
	From    time.Time
	To      time.Time
	Comment string // substring match
}

// SearchVersions returns the versions matching every set filter.
func (h *HistoryStore) SearchVersions(t ConfigType, key string, q SearchQuery) ([]ConfigVersion, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	versions, err := h.load(t, key)
	if err != nil {
		return nil, err
	}
	var out []ConfigVersion
	for _, v := range versions {
		if q.Author != "" && v.Author != q.Author {
			continue
		}
		if q.Comment != "" && !strings.Contains(v.Comment, q.Comment) {
			continue
		}
		if !q.From.IsZero() && v.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && v.Timestamp.After(q.To) {
			continue
		}
		if len(q.Tags) > 0 && !hasAllTags(v.Tags, q.Tags) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// CompareVersions renders a structural diff between two versions' payloads.
// An empty string means the payloads are identical.
func (h *HistoryStore) CompareVersions(t ConfigType, key string, v1, v2 int) (string, error) {
	a, err := h.GetVersion(t, key, v1)
	if err != nil {
		return "", err
	}
	b, err := h.GetVersion(t, key, v2)
	if err != nil {
		return "", err
	}
	return cmp.Diff(a.Payload, b.Payload), nil
}

// Export writes every history under the store to one file.
func (h *HistoryStore) Export(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return fmt.Errorf("config: read history dir: %w", err)
	}
	bundle := make(map[string][]ConfigVersion)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(h.dir, e.Name()))
		if err != nil {
			return err
		}
		var versions []ConfigVersion
		if err := json.Unmarshal(data, &versions); err != nil {
			return fmt.Errorf("config: parse %s: %w", e.Name(), err)
		}
		bundle[strings.TrimSuffix(e.Name(), ".json")] = versions
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Import loads a bundle written by Export. Without merge, each imported
// history replaces the existing one; with merge, imported versions whose
// content hash is not already present are appended and renumbered so the
// history stays strictly increasing.
func (h *HistoryStore) Import(path string, merge bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read import %s: %w", path, err)
	}
	var bundle map[string][]ConfigVersion
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("config: parse import %s: %w", path, err)
	}

	for name, imported := range bundle {
		t, key, ok := splitHistoryName(name)
		if !ok {
			return fmt.Errorf("config: malformed history name %q in import", name)
		}
		if !merge {
			if err := h.save(t, key, imported); err != nil {
				return err
			}
			continue
		}

		existing, err := h.load(t, key)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(existing))
		next := 1
		for _, v := range existing {
			seen[v.Hash] = struct{}{}
			next = v.Version + 1
		}
		for _, v := range imported {
			if _, dup := seen[v.Hash]; dup {
				continue
			}
			v.Version = next
			next++
			existing = append(existing, v)
		}
		if err := h.save(t, key, existing); err != nil {
			return err
		}
	}
	return nil
}

func splitHistoryName(name string) (ConfigType, string, bool) {
	parts := strings.SplitN(name, "__", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return ConfigType(parts[0]), parts[1], true
}

// Prune keeps only the newest keepN versions of a history.
func (h *HistoryStore) Prune(t ConfigType, key string, keepN int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	versions, err := h.load(t, key)
	if err != nil {
		return err
	}
	if keepN <= 0 || len(versions) <= keepN {
		return nil
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return h.save(t, key, versions[len(versions)-keepN:])
}

// Clear removes the entire history of a (type,key).
func (h *HistoryStore) Clear(t ConfigType, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := os.Remove(h.file(t, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: clear history %s/%s: %w", t, key, err)
	}
	return nil
}
