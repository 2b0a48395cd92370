// Package registry keeps the known Jira connections and the project keys
// associated with them. The whole table is persisted on every change.
package registry

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/models"
)

// StorageKey is the local storage key holding the registry snapshot.
const StorageKey = "jiraConfigs"

// Storage is the durable key/value store backing the registry.
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
}

type Registry struct {
	store Storage

	mu          sync.RWMutex
	configs     []models.ConnectionRecord
	projectKeys []string
}

// Load restores the registry from store. Missing or unreadable snapshots
// produce an empty registry; Load never fails.
func Load(store Storage) *Registry {
	r := &Registry{store: store}

	raw, ok, err := store.GetItem(StorageKey)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Failed to read connection registry, starting empty")
	case !ok || strings.TrimSpace(raw) == "":
	default:
		var saved []models.ConnectionRecord
		if err := json.Unmarshal([]byte(raw), &saved); err != nil {
			log.Warn().Err(err).Msg("Discarding malformed connection registry snapshot")
			break
		}
		for _, c := range saved {
			if strings.TrimSpace(c.ServerURL) == "" {
				continue
			}
			if len(c.ProjectKeys) == 0 {
				r.upsert(c.ServerURL, c.Username, "")
			}
			for _, k := range c.ProjectKeys {
				r.upsert(c.ServerURL, c.Username, k)
			}
		}
	}

	r.refreshProjectKeys()
	log.Debug().Int("connections", len(r.configs)).Msg("Connection registry loaded")
	return r
}

// AddOrUpdateConfig records a successful connection. An empty projectKey
// means no project. The in-memory update always applies; a non-nil error
// only reports that the snapshot could not be persisted.
func (r *Registry) AddOrUpdateConfig(serverURL, username, projectKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.upsert(serverURL, username, projectKey)
	r.refreshProjectKeys()
	return r.persist()
}

// RemoveConfig deletes the connection for serverURL. Absent servers are a no-op.
func (r *Registry) RemoveConfig(serverURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(serverURL)
	if i < 0 {
		return nil
	}
	r.configs = slices.Delete(r.configs, i, i+1)
	r.refreshProjectKeys()
	return r.persist()
}

func (r *Registry) GetConnection(serverURL string) (models.ConnectionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOf(serverURL)
	if i < 0 {
		return models.ConnectionRecord{}, false
	}
	return r.configs[i].Clone(), true
}

// Configs returns a copy of every connection in insertion order.
func (r *Registry) Configs() []models.ConnectionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ConnectionRecord, len(r.configs))
	for i, c := range r.configs {
		out[i] = c.Clone()
	}
	return out
}

// AllProjectKeys returns every distinct project key across all
// connections, sorted ascending.
func (r *Registry) AllProjectKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.projectKeys)
}

// upsert must be called with mu held (or before r is shared).
func (r *Registry) upsert(serverURL, username, projectKey string) {
	url := strings.TrimSpace(serverURL)
	key := NormalizeProjectKey(projectKey)

	if i := r.indexOf(url); i >= 0 {
		c := &r.configs[i]
		c.Username = username
		if key != "" && !containsFold(c.ProjectKeys, key) {
			c.ProjectKeys = append(c.ProjectKeys, key)
		}
		return
	}

	rec := models.ConnectionRecord{ServerURL: url, Username: username, ProjectKeys: []string{}}
	if key != "" {
		rec.ProjectKeys = append(rec.ProjectKeys, key)
	}
	r.configs = append(r.configs, rec)
}

func (r *Registry) indexOf(serverURL string) int {
	want := strings.ToLower(strings.TrimSpace(serverURL))
	return slices.IndexFunc(r.configs, func(c models.ConnectionRecord) bool {
		return strings.ToLower(c.ServerURL) == want
	})
}

func (r *Registry) refreshProjectKeys() {
	var keys []string
	for _, c := range r.configs {
		keys = append(keys, c.ProjectKeys...)
	}
	slices.Sort(keys)
	r.projectKeys = slices.Compact(keys)
}

func (r *Registry) persist() error {
	data, err := json.Marshal(r.configs)
	if err != nil {
		return fmt.Errorf("encoding connection registry: %w", err)
	}
	if r.configs == nil {
		data = []byte("[]")
	}
	if err := r.store.SetItem(StorageKey, string(data)); err != nil {
		return fmt.Errorf("persisting connection registry: %w", err)
	}
	return nil
}

// NormalizeProjectKey trims and upper-cases a Jira project key.
func NormalizeProjectKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func containsFold(keys []string, key string) bool {
	return slices.ContainsFunc(keys, func(k string) bool { return strings.EqualFold(k, key) })
}
