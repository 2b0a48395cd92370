package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/tcgen/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	items   map[string]string
	failSet bool
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{items: map[string]string{}}
}

func (m *memStore) GetItem(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", false, errors.New("disk on fire")
	}
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *memStore) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("read-only")
	}
	m.items[key] = value
	return nil
}

func TestEmptyRegistry(t *testing.T) {
	r := Load(newMemStore())
	assert.Empty(t, r.Configs())
	assert.Empty(t, r.AllProjectKeys())
}

func TestFirstConnectionShowsSingleProject(t *testing.T) {
	r := Load(newMemStore())
	require.NoError(t, r.AddOrUpdateConfig("https://x.atlassian.net", "a@b.com", "proj"))
	assert.Equal(t, []string{"PROJ"}, r.AllProjectKeys())
}

func TestSameServerDifferentCaseKeepsOneRecord(t *testing.T) {
	r := Load(newMemStore())
	calls := []struct{ url, user string }{
		{"https://X.atlassian.net", "first@b.com"},
		{"https://x.atlassian.net", "second@b.com"},
		{"  HTTPS://X.ATLASSIAN.NET  ", "third@b.com"},
	}
	for _, c := range calls {
		require.NoError(t, r.AddOrUpdateConfig(c.url, c.user, ""))
	}

	configs := r.Configs()
	require.Len(t, configs, 1)
	assert.Equal(t, "third@b.com", configs[0].Username)
	assert.Equal(t, "https://X.atlassian.net", configs[0].ServerURL, "first spelling is kept for storage")
}

func TestProjectKeysAreDeduplicatedCaseInsensitively(t *testing.T) {
	r := Load(newMemStore())
	for _, k := range []string{"proj", "PROJ", " Proj ", "ops", "OPS", ""} {
		require.NoError(t, r.AddOrUpdateConfig("https://x.atlassian.net", "a@b.com", k))
	}

	c, ok := r.GetConnection("https://x.atlassian.net")
	require.True(t, ok)
	assert.Equal(t, []string{"PROJ", "OPS"}, c.ProjectKeys)
}

func TestAllProjectKeysSortedAndUnique(t *testing.T) {
	r := Load(newMemStore())
	require.NoError(t, r.AddOrUpdateConfig("https://b.atlassian.net", "u", "zeta"))
	require.NoError(t, r.AddOrUpdateConfig("https://a.atlassian.net", "u", "alpha"))
	require.NoError(t, r.AddOrUpdateConfig("https://a.atlassian.net", "u", "zeta"))
	require.NoError(t, r.AddOrUpdateConfig("https://c.atlassian.net", "u", "mid"))

	keys := r.AllProjectKeys()
	assert.Equal(t, []string{"ALPHA", "MID", "ZETA"}, keys)
	assert.True(t, slices.IsSorted(keys))

	keys[0] = "MUTATED"
	assert.Equal(t, "ALPHA", r.AllProjectKeys()[0], "callers get a copy")
}

func TestRemoveThenLookup(t *testing.T) {
	r := Load(newMemStore())
	urls := []string{"https://a.atlassian.net", "https://b.atlassian.net"}
	for i, u := range urls {
		require.NoError(t, r.AddOrUpdateConfig(u, "u", fmt.Sprintf("P%d", i)))
	}

	for _, u := range urls {
		require.NoError(t, r.RemoveConfig(u))
		_, ok := r.GetConnection(u)
		assert.False(t, ok, "removed %s should not be found", u)
	}
	assert.Empty(t, r.AllProjectKeys())
	require.NoError(t, r.RemoveConfig("https://missing.example"), "removing an absent server is a no-op")
}

func TestRemoveIsCaseInsensitive(t *testing.T) {
	r := Load(newMemStore())
	require.NoError(t, r.AddOrUpdateConfig("https://x.atlassian.net", "u", "proj"))
	require.NoError(t, r.RemoveConfig("HTTPS://X.ATLASSIAN.NET"))
	assert.Empty(t, r.Configs())
}

func TestPersistAndReload(t *testing.T) {
	store := newMemStore()
	r := Load(store)
	require.NoError(t, r.AddOrUpdateConfig("https://x.atlassian.net", "a@b.com", "proj"))
	require.NoError(t, r.AddOrUpdateConfig("https://y.atlassian.net", "c@d.com", ""))

	var saved []models.ConnectionRecord
	require.NoError(t, json.Unmarshal([]byte(store.items[StorageKey]), &saved))
	require.Len(t, saved, 2)
	assert.Equal(t, []string{}, saved[1].ProjectKeys)

	reloaded := Load(store)
	assert.Equal(t, r.Configs(), reloaded.Configs())
	assert.Equal(t, []string{"PROJ"}, reloaded.AllProjectKeys())
}

func TestMalformedSnapshotStartsEmpty(t *testing.T) {
	for name, raw := range map[string]string{
		"garbage":     "{not json",
		"wrong shape": `{"serverUrl":"x"}`,
		"blank":       "   ",
	} {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			store.items[StorageKey] = raw

			r := Load(store)
			assert.Empty(t, r.Configs())
			assert.Empty(t, r.AllProjectKeys())
		})
	}
}

func TestUnreadableStorageStartsEmpty(t *testing.T) {
	store := newMemStore()
	store.failGet = true
	assert.Empty(t, Load(store).Configs())
}

func TestLoadRepairsDuplicateRecords(t *testing.T) {
	store := newMemStore()
	store.items[StorageKey] = `[
		{"serverUrl":"https://x.atlassian.net","username":"old","projectKeys":["proj"]},
		{"serverUrl":"HTTPS://X.atlassian.net","username":"new","projectKeys":["PROJ","ops"]},
		{"serverUrl":"","username":"nobody","projectKeys":["LOST"]}
	]`

	r := Load(store)
	configs := r.Configs()
	require.Len(t, configs, 1)
	assert.Equal(t, "new", configs[0].Username)
	assert.Equal(t, []string{"OPS", "PROJ"}, r.AllProjectKeys())
}

func TestPersistFailureKeepsInMemoryUpdate(t *testing.T) {
	store := newMemStore()
	store.failSet = true
	r := Load(store)

	err := r.AddOrUpdateConfig("https://x.atlassian.net", "u", "proj")
	assert.Error(t, err)
	assert.Equal(t, []string{"PROJ"}, r.AllProjectKeys())
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	store := newMemStore()
	r := Load(store)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.AddOrUpdateConfig("https://x.atlassian.net", "u", fmt.Sprintf("K%02d", i))
		}()
	}
	wg.Wait()

	assert.Len(t, r.AllProjectKeys(), 20)
	assert.Len(t, Load(store).AllProjectKeys(), 20, "last persisted snapshot holds every key")
}
