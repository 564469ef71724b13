package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "runs", "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleRun(started time.Time) Run {
	return Run{
		Source:   "testdata/algebra.lp",
		Engine:   "clingo",
		Started:  started,
		Duration: 1500 * time.Millisecond,
		Models: []Model{
			{
				ID:    "3f2a9c0d11aa4e02",
				Atoms: []string{`fact(eq(1,"x+2=5"))`, `step(1,eq(1,"x+2=5"),eq(2,"x=3"),subtract_both_sides)`},
				Steps: []Step{{Index: 1, Template: "subtract", Sentences: []string{"Subtract 2 from both sides: x+2=5 becomes x=3"}}},
			},
			{
				ID:    "9b7e55c2d0f1a3b4",
				Atoms: []string{`step(1,a,b,c)`, `step(3,b,c,d)`},
				Error: "model 9b7e55c2d0f1a3b4: cannot order steps: step 3 follows step 1",
			},
		},
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, err := a.SaveRun(ctx, sampleRun(started))
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "generated run ids are uuids")

	got, err := a.LoadRun(ctx, id)
	require.NoError(t, err)
	want := sampleRun(started)
	want.ID = id
	assert.Equal(t, &want, got)
}

func TestSaveRunKeepsID(t *testing.T) {
	a := openArchive(t)
	r := sampleRun(time.Now())
	r.ID = "fixed"
	id, err := a.SaveRun(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	_, err = a.SaveRun(context.Background(), r)
	assert.Error(t, err, "duplicate ids are rejected")
}

func TestRuns(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i := range 3 {
		id, err := a.SaveRun(ctx, sampleRun(base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	empty := Run{Source: "empty.lp", Engine: "mangle", Started: base.Add(-time.Hour), Unsatisfiable: true}
	_, err := a.SaveRun(ctx, empty)
	require.NoError(t, err)

	runs, err := a.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, ids[2], runs[0].ID, "newest first")
	assert.Equal(t, 2, runs[0].Models)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, 1500*time.Millisecond, runs[0].Duration)
	assert.Equal(t, "empty.lp", runs[3].Source)
	assert.Zero(t, runs[3].Models)

	runs, err = a.Runs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestLoadRunNotFound(t *testing.T) {
	a := openArchive(t)
	_, err := a.LoadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRun(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()
	id, err := a.SaveRun(ctx, sampleRun(time.Now()))
	require.NoError(t, err)

	require.NoError(t, a.DeleteRun(ctx, id))
	_, err = a.LoadRun(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, a.DeleteRun(ctx, id), ErrNotFound)

	var n int
	require.NoError(t, a.db.QueryRow(`SELECT COUNT(*) FROM steps`).Scan(&n))
	assert.Zero(t, n, "steps are removed with their run")
}

func TestMigratesOldArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
	CREATE TABLE runs (id TEXT PRIMARY KEY, source TEXT NOT NULL, engine TEXT NOT NULL,
		started_at TEXT NOT NULL, duration_ms INTEGER NOT NULL);
	CREATE TABLE models (run_id TEXT NOT NULL, position INTEGER NOT NULL, model_id TEXT NOT NULL,
		atoms TEXT NOT NULL, PRIMARY KEY (run_id, position));
	INSERT INTO runs VALUES ('old', 'a.lp', 'clingo', '2025-01-02T03:04:05Z', 10);
	INSERT INTO models VALUES ('old', 0, 'abc', 'p(1)');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, CurrentSchemaVersion, SchemaVersion(a.db))
	assert.True(t, columnExists(a.db, "runs", "unsatisfiable"))
	assert.True(t, columnExists(a.db, "models", "error"))

	r, err := a.LoadRun(context.Background(), "old")
	require.NoError(t, err)
	assert.False(t, r.Unsatisfiable)
	require.Len(t, r.Models, 1)
	assert.Equal(t, []string{"p(1)"}, r.Models[0].Atoms)
	assert.Empty(t, r.Models[0].Error)
}

func TestMemoryArchive(t *testing.T) {
	a, err := Open(":memory:")
	require.NoError(t, err)
	defer a.Close()
	_, err = a.SaveRun(context.Background(), Run{Source: "x.lp", Engine: "mangle", Started: time.Now()})
	require.NoError(t, err)
}
