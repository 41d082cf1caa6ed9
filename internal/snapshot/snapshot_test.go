package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstephq/lockstep/internal/contract"
)

func sampleSeries(price string) contract.Series {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]contract.Bar, 5)
	for i := range bars {
		bars[i] = contract.Bar{
			Time:  base.AddDate(0, 0, i),
			Close: decimal.RequireFromString(price),
		}
	}
	return contract.Series{"ALPHA": bars}
}

func TestPutGetRoundTrip(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)

	series := sampleSeries("101.25")
	id, err := reg.Put(series)
	require.NoError(t, err)
	require.Len(t, id, 64)

	loaded, err := reg.Get(id)
	require.NoError(t, err)
	require.Len(t, loaded["ALPHA"], 5)

	for i, bar := range loaded["ALPHA"] {
		assert.True(t, bar.Time.Equal(series["ALPHA"][i].Time))
		assert.True(t, bar.Close.Equal(series["ALPHA"][i].Close))
	}

	// A loaded snapshot re-puts to the same id.
	id2, err := reg.Put(loaded)
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestPutDeduplicatesIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	reg, err := Open(dir)
	require.NoError(t, err)

	id1, err := reg.Put(sampleSeries("100"))
	require.NoError(t, err)
	id2, err := reg.Put(sampleSeries("100"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "duplicate content must not be stored twice")
}

func TestPutKeepsDistinctContentApart(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)

	id1, err := reg.Put(sampleSeries("100.000000"))
	require.NoError(t, err)
	id2, err := reg.Put(sampleSeries("100.000001"))
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2, "noise below display granularity is still distinct content")
}

func TestPutCollapsesNumericallyEqualAmounts(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)

	id1, err := reg.Put(sampleSeries("100"))
	require.NoError(t, err)
	id2, err := reg.Put(sampleSeries("100.00"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "canonical serialization is bit-identical, so this is a true duplicate")
}

func TestGetMissingSnapshot(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = reg.Get("0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
	assert.True(t, contract.IsNotFound(err))
}

func TestGetRejectsMalformedID(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "short", "../../etc/passwd", "ZZ"} {
		_, err := reg.Get(id)
		require.Error(t, err)
		assert.True(t, contract.IsNotFound(err), "id %q", id)
	}
}

func TestGetDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	reg, err := Open(dir)
	require.NoError(t, err)

	id, err := reg.Put(sampleSeries("100"))
	require.NoError(t, err)

	path := filepath.Join(dir, id+".json")
	require.NoError(t, os.WriteFile(path, []byte(`{"series":{}}`), 0o644))

	_, err = reg.Get(id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestIDStableAcrossRegistryInstances(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()

	reg1, err := Open(dir1)
	require.NoError(t, err)
	reg2, err := Open(dir2)
	require.NoError(t, err)

	id1, err := reg1.Put(sampleSeries("42.5"))
	require.NoError(t, err)
	id2, err := reg2.Put(sampleSeries("42.5"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "ids depend on content only, never on the process or root")
}

func TestContains(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)

	id, err := reg.Put(sampleSeries("100"))
	require.NoError(t, err)

	assert.True(t, reg.Contains(id))
	assert.False(t, reg.Contains("0000000000000000000000000000000000000000000000000000000000000000"))
	assert.False(t, reg.Contains("not-an-id"))
}
