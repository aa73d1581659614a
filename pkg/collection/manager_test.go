package collection

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/collector/pkg/types"
)

const descriptorTemplate = `{
  "name": "Board games",
  "author": "Ana",
  "description": "Games on the shelf",
  "persistence": {"storage": %q, "parameters": %s},
  "schemas": {
    "boardgames": {
      "name": "Board games",
      "image": "collector://collections/games/shelf.png",
      "fields": {
        "title": {"name": "Title"},
        "year": {"name": "Year", "class": "int"},
        "cover": {"name": "Cover", "class": "image"},
        "designer": {"name": "Designer", "class": "ref", "params": {"ref": "people.name"}},
        "tags": {"name": "Tags", "multiple": true}
      }
    },
    "people": {
      "name": "People",
      "fields": {"name": {"name": "Name"}}
    }
  }
}`

// storages lists engine configurations every behavioral test runs against.
var storages = []struct {
	name    string
	storage string
	params  string
}{
	{"filestore", types.StoragePickle, `{}`},
	{"filestore_memory", types.StoragePickle, `{"memory": true}`},
	{"sqlite", types.StorageSQLAlchemy, `{}`},
	{"sqlite_memory", types.StorageSQLAlchemy, `{"path": ":memory:"}`},
}

// writeCollection creates <home>/collections/<id>/collection.json.
func writeCollection(t *testing.T, home, id, content string) string {
	t.Helper()
	dir := filepath.Join(home, CollectionsDir, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "collection.json"), []byte(content), 0o644))
	return dir
}

func descriptor(storage, params string) string {
	return fmt.Sprintf(descriptorTemplate, storage, params)
}

func discover(t *testing.T, home string) *Manager {
	t.Helper()
	m := NewManager(home)
	require.NoError(t, m.Discover())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestDiscoverLoadsCollection(t *testing.T) {
	home := t.TempDir()
	writeCollection(t, home, "games", descriptor(types.StoragePickle, `{}`))

	m := discover(t, home)

	assert.Equal(t, Metadata{
		ID:          "games",
		Title:       "Board games",
		Author:      "Ana",
		Description: "Games on the shelf",
		Storage:     types.StoragePickle,
	}, m.Metadata())

	var ids []string
	for _, c := range m.Collections() {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []string{"boardgames", "people"}, ids)

	c, err := m.Collection("boardgames")
	require.NoError(t, err)
	assert.Equal(t, "Board games", c.Name())
	assert.Equal(t, filepath.Join(home, "collections", "games", "shelf.png"), c.Image())
}

func TestDiscoverSkipsInvalidFolders(t *testing.T) {
	home := t.TempDir()
	writeCollection(t, home, "a_broken", `{"name": `)
	writeCollection(t, home, "b_unknown", descriptor("mongo", `{}`))
	require.NoError(t, os.MkdirAll(filepath.Join(home, CollectionsDir, "c_empty"), 0o755))
	writeCollection(t, home, "d_games", descriptor(types.StoragePickle, `{}`))
	writeCollection(t, home, "e_later", descriptor(types.StoragePickle, `{}`))

	m := discover(t, home)

	assert.Equal(t, "d_games", m.Metadata().ID, "only the first valid folder is loaded")
	assert.Len(t, m.Collections(), 2)
}

func TestDiscoverWithoutCollectionsFolder(t *testing.T) {
	m := discover(t, t.TempDir())
	assert.Empty(t, m.Collections())
	assert.Equal(t, Metadata{}, m.Metadata())
}

func TestCollectionNotFound(t *testing.T) {
	home := t.TempDir()
	writeCollection(t, home, "games", descriptor(types.StoragePickle, `{}`))
	m := discover(t, home)

	_, err := m.Collection("videogames")
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)
	_, err = m.Persistence("videogames")
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)
	_, err = m.Schema("videogames")
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)

	s, err := m.Schema("people")
	require.NoError(t, err)
	assert.Equal(t, "people", s.SubcollectionID)
}

func TestIsCollectionFolder(t *testing.T) {
	home := t.TempDir()
	dir := writeCollection(t, home, "games", descriptor(types.StoragePickle, `{}`))
	assert.True(t, IsCollectionFolder(dir))
	assert.False(t, IsCollectionFolder(filepath.Join(dir, "collection.json")))
	assert.False(t, IsCollectionFolder(home))
	assert.False(t, IsCollectionFolder(filepath.Join(home, "missing")))
}

func TestCollectionOperations(t *testing.T) {
	for _, st := range storages {
		t.Run(st.name, func(t *testing.T) {
			home := t.TempDir()
			writeCollection(t, home, "games", descriptor(st.storage, st.params))
			m := discover(t, home)

			people, err := m.Collection("people")
			require.NoError(t, err)
			games, err := m.Collection("boardgames")
			require.NoError(t, err)

			kiesling, err := people.Save(map[string]any{"name": "Michael Kiesling"})
			require.NoError(t, err)

			for _, title := range []string{"Azul", "Carcassonne", "Agricola"} {
				_, err := games.Save(map[string]any{"title": title, "designer": kiesling.ID})
				require.NoError(t, err)
			}

			all, err := games.GetAll(0, 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			last, err := games.GetLast(0)
			require.NoError(t, err)
			require.Len(t, last, 3)
			assert.Equal(t, "Agricola", last[0].Get("title"))

			found, err := games.Query("car")
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, "Carcassonne", found[0].Get("title"))

			filtered, err := games.Filter([]types.Predicate{types.Like("title", "a")})
			require.NoError(t, err)
			assert.Len(t, filtered, 3)

			resolved, err := games.LoadReferences(found[0])
			require.NoError(t, err)
			assert.True(t, resolved.Resolved())
			assert.Equal(t, "Michael Kiesling", resolved.Get("designer"))

			require.NoError(t, games.Delete(fmt.Sprint(found[0].ID)))
			_, err = games.Get(fmt.Sprint(found[0].ID))
			assert.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestSearchFoldsNonASCII(t *testing.T) {
	for _, st := range storages {
		t.Run(st.name, func(t *testing.T) {
			home := t.TempDir()
			writeCollection(t, home, "games", descriptor(st.storage, st.params))
			games, err := discover(t, home).Collection("boardgames")
			require.NoError(t, err)

			for _, title := range []string{"Ébène", "Chess"} {
				_, err := games.Save(map[string]any{"title": title, "tags": []any{"ÉDITION " + title}})
				require.NoError(t, err)
			}

			found, err := games.Query("ébène")
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, "Ébène", found[0].Get("title"))

			filtered, err := games.Filter([]types.Predicate{types.Like("tags", "édition c")})
			require.NoError(t, err)
			require.Len(t, filtered, 1)
			assert.Equal(t, "Chess", filtered[0].Get("title"))
		})
	}
}

func TestLoadReferencesUsesRecordValues(t *testing.T) {
	for _, st := range storages {
		t.Run(st.name, func(t *testing.T) {
			home := t.TempDir()
			writeCollection(t, home, "games", descriptor(st.storage, st.params))
			m := discover(t, home)
			people, err := m.Collection("people")
			require.NoError(t, err)
			games, err := m.Collection("boardgames")
			require.NoError(t, err)

			for _, name := range []string{"Alice", "Bob"} {
				_, err := people.Save(map[string]any{"name": name})
				require.NoError(t, err)
			}
			game, err := games.Save(map[string]any{"title": "Azul", "designer": "people:1"})
			require.NoError(t, err)

			require.NoError(t, game.Set("designer", "people:2"))
			resolved, err := games.LoadReferences(game)
			require.NoError(t, err)
			assert.Equal(t, "Bob", resolved.Get("designer"))

			require.NoError(t, game.Set("designer", "people:9"))
			resolved, err = games.LoadReferences(game)
			require.NoError(t, err)
			assert.Equal(t, "", resolved.Get("designer"))
		})
	}
}

func TestClosePersistsRecords(t *testing.T) {
	for _, st := range []string{types.StoragePickle, types.StorageSQLAlchemy} {
		t.Run(st, func(t *testing.T) {
			home := t.TempDir()
			writeCollection(t, home, "games", descriptor(st, `{"sync": "on_close"}`))

			m := NewManager(home)
			require.NoError(t, m.Discover())
			c, err := m.Collection("boardgames")
			require.NoError(t, err)
			saved, err := c.Save(map[string]any{"title": "Azul"})
			require.NoError(t, err)
			require.NoError(t, m.Close())

			reopened := discover(t, home)
			c, err = reopened.Collection("boardgames")
			require.NoError(t, err)
			got, err := c.Get(fmt.Sprint(saved.ID))
			require.NoError(t, err)
			assert.Equal(t, "Azul", got.Get("title"))
		})
	}
}

func TestSQLiteDatabaseLocation(t *testing.T) {
	home := t.TempDir()
	dir := writeCollection(t, home, "games", descriptor(types.StorageSQLAlchemy, `{}`))
	discover(t, home)

	_, err := os.Stat(filepath.Join(dir, "games.sqlite"))
	assert.NoError(t, err)
}

func TestImagePath(t *testing.T) {
	home := t.TempDir()
	writeCollection(t, home, "games", descriptor(types.StoragePickle, `{}`))
	m := discover(t, home)
	c, err := m.Collection("boardgames")
	require.NoError(t, err)

	rec, err := c.Save(map[string]any{
		"title": "Azul",
		"cover": "collector://collections/games/images/azul.png",
	})
	require.NoError(t, err)

	path, err := c.ImagePath(rec, "cover")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "collections", "games", "images", "azul.png"), path)

	_, err = c.ImagePath(rec, "title")
	assert.ErrorIs(t, err, types.ErrTypeValueMismatch)
	_, err = c.ImagePath(rec, "missing")
	assert.ErrorIs(t, err, types.ErrFieldNotFound)

	empty, err := c.Save(map[string]any{"title": "Agricola"})
	require.NoError(t, err)
	path, err = c.ImagePath(empty, "cover")
	require.NoError(t, err)
	assert.Empty(t, path)
}
