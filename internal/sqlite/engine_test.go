package sqlite

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/collector/pkg/types"
)

const testDescriptor = `{
  "name": "Games",
  "persistence": {"storage": "sqlalchemy", "parameters": {"path": ":memory:"}},
  "schemas": {
    "boardgames": {
      "name": "Board games",
      "fields": {
        "title": {"name": "Title"},
        "year": {"name": "Year", "class": "int"},
        "rating": {"name": "Rating", "class": "float"},
        "designer": {"name": "Designer", "class": "ref", "params": {"ref": "people.name"}},
        "artists": {"name": "Artists", "class": "ref", "multiple": true, "params": {"ref": "people.name"}},
        "tags": {"name": "Tags", "multiple": true}
      }
    },
    "people": {
      "name": "People",
      "fields": {"name": {"name": "Name"}}
    }
  }
}`

func testSchemas(t *testing.T) map[string]*types.Schema {
	t.Helper()
	d, err := types.ParseDescriptorJSON([]byte(testDescriptor))
	require.NoError(t, err)
	out := make(map[string]*types.Schema)
	for _, e := range d.Schemas {
		s, err := types.BuildSchema("games", e.ID, e.Schema, nil)
		require.NoError(t, err)
		out[e.ID] = s
	}
	return out
}

// directory serves the engines of one test database.
type directory map[string]*Engine

func (d directory) Persistence(id string) (types.Persistence, error) {
	e, ok := d[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, id)
	}
	return e, nil
}

func (d directory) Schema(id string) (*types.Schema, error) {
	e, ok := d[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, id)
	}
	return e.schema, nil
}

func openEngines(t *testing.T, path string) directory {
	t.Helper()
	reg := NewRegistry(nil)
	t.Cleanup(func() { reg.Close() })
	db, err := reg.Open("games", path)
	require.NoError(t, err)

	dir := directory{}
	schemas := testSchemas(t)
	for _, id := range []string{"boardgames", "people"} {
		dir[id] = New(db, schemas[id], nil)
	}
	for _, e := range dir {
		require.NoError(t, e.AllCreated())
	}
	return dir
}

func save(t *testing.T, e *Engine, data map[string]any) *types.Record {
	t.Helper()
	rec, err := e.Save(data)
	require.NoError(t, err)
	return rec
}

func titles(records []*types.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i], _ = r.Get("title").(string)
	}
	return out
}

func TestOperationsBeforeAllCreated(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	db, err := reg.Open("games", MemoryPath)
	require.NoError(t, err)
	e := New(db, testSchemas(t)["people"], nil)

	_, err = e.Save(map[string]any{"name": "Alice"})
	assert.ErrorIs(t, err, types.ErrStorageNotReady)
	_, err = e.GetAll(0, 0)
	assert.ErrorIs(t, err, types.ErrStorageNotReady)

	require.NoError(t, e.AllCreated())
	require.NoError(t, e.AllCreated(), "materializing twice is harmless")
	_, err = e.Save(map[string]any{"name": "Alice"})
	assert.NoError(t, err)
}

func TestSaveThenGetRoundTrip(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	alice := save(t, dir["people"], map[string]any{"name": "Alice"})
	assert.Equal(t, int64(1), alice.ID)

	saved := save(t, dir["boardgames"], map[string]any{
		"title":    "Go",
		"year":     "1999",
		"rating":   8.5,
		"designer": "people:1",
		"artists":  []any{1},
		"tags":     []any{"abstract", "classic"},
	})
	assert.Equal(t, int64(1), saved.ID)

	got, err := dir["boardgames"].Get("1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":       int64(1),
		"title":    "Go",
		"year":     int64(1999),
		"rating":   8.5,
		"designer": types.RefValue{Collection: "people", ID: 1},
		"artists":  []any{types.RefValue{Collection: "people", ID: 1}},
		"tags":     []any{"abstract", "classic"},
	}, got.Map())
	assert.Equal(t, saved.Map(), got.Map())
}

func TestGetErrors(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	_, err := dir["people"].Get("x")
	assert.ErrorIs(t, err, types.ErrInvalidID)
	_, err = dir["people"].Get("4")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPaginationAndLast(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	games := dir["boardgames"]
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		save(t, games, map[string]any{"title": title})
	}

	got, err := games.GetAll(2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e"}, titles(got))

	got, err = games.GetAll(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, titles(got))

	got, err = games.GetAll(7, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = games.GetLast(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d"}, titles(got))

	got, err = games.GetLast(0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAutoIDNeverReused(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	games := dir["boardgames"]
	for _, title := range []string{"a", "b", "c"} {
		save(t, games, map[string]any{"title": title})
	}
	require.NoError(t, games.Delete("3"))
	next := save(t, games, map[string]any{"title": "d"})
	assert.Equal(t, int64(4), next.ID)
}

func TestSearchAndFilter(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	games := dir["boardgames"]
	save(t, games, map[string]any{"title": "Go Fish", "year": 1999, "tags": []any{"cards"}})
	save(t, games, map[string]any{"title": "Chess", "year": 1500, "tags": []any{"abstract", "classic"}})
	save(t, games, map[string]any{"title": "Go", "year": 1999, "tags": []any{"abstract"}})
	save(t, games, map[string]any{"title": "100% Fun", "year": 2020})

	got, err := games.Search("go")
	require.NoError(t, err)
	assert.Equal(t, []string{"Go Fish", "Go"}, titles(got))

	got, err = games.Search("%")
	require.NoError(t, err)
	assert.Equal(t, []string{"100% Fun"}, titles(got))

	tests := []struct {
		name    string
		preds   []types.Predicate
		want    []string
		wantErr error
	}{
		{"equals", []types.Predicate{types.Equals("year", "1999")}, []string{"Go Fish", "Go"}, nil},
		{"like and equals", []types.Predicate{types.Like("title", "FISH"), types.Equals("year", 1999)}, []string{"Go Fish"}, nil},
		{"multivalue equals", []types.Predicate{types.Equals("tags", "abstract")}, []string{"Chess", "Go"}, nil},
		{"multivalue like", []types.Predicate{types.Like("tags", "CLASS")}, []string{"Chess"}, nil},
		{"id", []types.Predicate{types.Equals("id", 2)}, []string{"Chess"}, nil},
		{"none", nil, []string{"Go Fish", "Chess", "Go", "100% Fun"}, nil},
		{"like on ref", []types.Predicate{types.Like("designer", "a")}, nil, types.ErrUnsupportedFilter},
		{"unknown op", []types.Predicate{{Op: "in", Field: "year", Value: 1}}, nil, types.ErrUnsupportedFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := games.Filter(tt.preds)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(got))
		})
	}
}

func TestUpdateInPlace(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	games := dir["boardgames"]
	save(t, games, map[string]any{"title": "Go", "year": 1999, "tags": []any{"a", "b"}})

	updated := save(t, games, map[string]any{"id": "1", "tags": []any{"c"}})
	assert.Equal(t, "Go", updated.Get("title"))
	assert.Equal(t, []any{"c"}, updated.Get("tags"))

	got, err := games.Get("1")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), got.Get("year"))
	assert.Equal(t, []any{"c"}, got.Get("tags"))

	_, err = games.Save(map[string]any{"id": 99, "title": "ghost"})
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = games.Save(map[string]any{"id": 1, "year": "old"})
	assert.ErrorIs(t, err, types.ErrCast)
}

func TestSaveDanglingReference(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	_, err := dir["boardgames"].Save(map[string]any{"title": "Go", "designer": "people:5"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	all, err := dir["boardgames"].GetAll(0, 0)
	require.NoError(t, err)
	assert.Empty(t, all, "failed insert is rolled back")
}

func TestDeleteReferencedRowFails(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	people, games := dir["people"], dir["boardgames"]
	save(t, people, map[string]any{"name": "Alice"})
	save(t, people, map[string]any{"name": "Bob"})
	save(t, games, map[string]any{"title": "Go", "designer": 1, "artists": []any{2}})

	assert.ErrorIs(t, people.Delete("1"), types.ErrStillReferenced)
	assert.ErrorIs(t, people.Delete("2"), types.ErrStillReferenced)

	got, err := games.Get("1")
	require.NoError(t, err)
	assert.Equal(t, []any{types.RefValue{Collection: "people", ID: 2}}, got.Get("artists"),
		"association rows survive the refused delete")

	require.NoError(t, games.Delete("1"))
	require.NoError(t, people.Delete("2"), "association rows were removed with their owner")
	require.NoError(t, people.Delete("2"), "absent ids are a no-op")
	assert.ErrorIs(t, people.Delete("two"), types.ErrInvalidID)
}

func TestLoadReferencesThroughJoins(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	people, games := dir["people"], dir["boardgames"]
	save(t, people, map[string]any{"name": "Alice"})
	save(t, people, map[string]any{"name": "Bob"})
	saved := save(t, games, map[string]any{"title": "Go", "designer": "people:1", "artists": []any{"people:2", "people:1"}})

	once, err := games.LoadReferences(dir, saved)
	require.NoError(t, err)
	assert.True(t, once.Resolved())
	assert.Equal(t, "Go", once.Get("title"))
	assert.Equal(t, "Alice", once.Get("designer"))
	assert.Equal(t, []any{"Bob", "Alice"}, once.Get("artists"))

	twice, err := games.LoadReferences(dir, once)
	require.NoError(t, err)
	assert.Equal(t, once.Map(), twice.Map())

	empty := save(t, games, map[string]any{"title": "Chess"})
	resolved, err := games.LoadReferences(dir, empty)
	require.NoError(t, err)
	assert.Equal(t, "", resolved.Get("designer"))
	assert.Equal(t, []any{}, resolved.Get("artists"))
}

func TestLoadReferencesUnsavedRecord(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	save(t, dir["people"], map[string]any{"name": "Alice"})

	rec, err := dir["boardgames"].schema.NewRecord(map[string]any{"title": "Go", "designer": 1})
	require.NoError(t, err)
	got, err := dir["boardgames"].LoadReferences(dir, rec)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Get("designer"))
}

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games", "games.sqlite")
	first := openEngines(t, path)
	save(t, first["people"], map[string]any{"name": "Alice"})
	require.NoError(t, first["people"].Close())

	reg := NewRegistry(nil)
	defer reg.Close()
	db, err := reg.Open("games", path)
	require.NoError(t, err)
	assert.Equal(t, path, db.Path())
	people := New(db, testSchemas(t)["people"], nil)
	require.NoError(t, people.AllCreated())

	got, err := people.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Get("name"))
}

func TestClosedEngine(t *testing.T) {
	dir := openEngines(t, MemoryPath)
	require.NoError(t, dir["people"].Close())
	_, err := dir["people"].GetLast(1)
	assert.ErrorIs(t, err, types.ErrStorageNotReady)
}
