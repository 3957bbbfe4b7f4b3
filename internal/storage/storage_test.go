package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionscan/internal/remote"
	logx "regionscan/pkg/logx"
)

var (
	tgtA = remote.Target{Account: "1", Region: "eu-west-1", Service: "ec2"}
	tgtB = remote.Target{Account: "1", Region: "us-east-1", Service: "ec2"}
)

func res(t remote.Target, id string, cpu float64) remote.Resource {
	return remote.Resource{
		ID:         id,
		Type:       "instance",
		Name:       "n-" + id,
		Target:     t,
		Attributes: map[string]string{"region": t.Region},
		Metrics:    map[string]float64{"cpu": cpu},
		ScannedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func drivers(t *testing.T) map[string]Config {
	dir := t.TempDir()
	return map[string]Config{
		"memory": {Driver: "memory"},
		"file":   {Driver: "file", Path: filepath.Join(dir, "file", "scan.db")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "scan.db")},
	}
}

func TestStoreUpsertListDelete(t *testing.T) {
	ctx := context.Background()
	for name, cfg := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			require.NoError(t, st.PutResource(ctx, res(tgtA, "b", 1)))
			require.NoError(t, st.PutResource(ctx, res(tgtA, "a", 2)))
			require.NoError(t, st.PutResource(ctx, res(tgtB, "a", 3)))
			// Upsert replaces.
			require.NoError(t, st.PutResource(ctx, res(tgtA, "b", 9)))

			got, err := st.ListResources(ctx, tgtA)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0].ID)
			assert.Equal(t, "b", got[1].ID)
			assert.Equal(t, 9.0, got[1].Metrics["cpu"])
			assert.Equal(t, tgtA, got[1].Target)
			assert.Equal(t, "eu-west-1", got[1].Attributes["region"])
			assert.True(t, got[1].ScannedAt.Equal(res(tgtA, "b", 9).ScannedAt))

			n, err := st.DeleteTarget(ctx, tgtA)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			got, err = st.ListResources(ctx, tgtA)
			require.NoError(t, err)
			assert.Empty(t, got)
			got, err = st.ListResources(ctx, tgtB)
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	for name, cfg := range drivers(t) {
		if name == "memory" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			require.NoError(t, st.PutResource(ctx, res(tgtA, "a", 1)))
			require.NoError(t, st.PutResource(ctx, res(tgtB, "b", 2)))
			_, err = st.DeleteTarget(ctx, tgtB)
			require.NoError(t, err)
			require.NoError(t, st.Close())

			st, err = Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			got, err := st.ListResources(ctx, tgtA)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, 1.0, got[0].Metrics["cpu"])
			got, err = st.ListResources(ctx, tgtB)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestFileJournalReplayWithoutClose(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "scan.json")}
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutResource(ctx, res(tgtA, "a", 1)))

	// A second store sees the journal even though the first never compacted.
	st2, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	got, err := st2.ListResources(ctx, tgtA)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	require.NoError(t, st2.Close())
	require.NoError(t, st.Close())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)

	st, err := Open(Config{}, logx.Logger{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.PutResource(context.Background(), res(tgtA, "a", 1)), ErrClosed)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r := res(tgtA, "a", 1)
	require.NoError(t, m.PutResource(ctx, r))
	r.Metrics["cpu"] = 50

	got, err := m.ListResources(ctx, tgtA)
	require.NoError(t, err)
	got[0].Metrics["cpu"] = 99
	again, err := m.ListResources(ctx, tgtA)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again[0].Metrics["cpu"])
}
