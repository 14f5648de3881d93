package merge

import (
	"testing"
	"time"

	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func attrs(kv ...string) map[string][]byte {
	m := make(map[string][]byte)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = []byte(kv[i+1])
	}
	return m
}

func TestApply_CreatesRecord(t *testing.T) {
	res := Apply(nil, "jet", "alex", attrs("a", "bin"), t0)

	require.NotNil(t, res.Record)
	assert.True(t, res.Created)
	assert.Equal(t, "jet", res.Record.Tenant)
	assert.Equal(t, "alex", res.Record.PrimaryKey)
	assert.Equal(t, int64(1), res.Record.Version)
	assert.Equal(t, attrs("a", "bin"), res.Record.Attributes)
	assert.Equal(t, t0.UnixMilli(), res.Record.CreatedAt)
	assert.Equal(t, t0.UnixMilli(), res.Record.UpdatedAt)
	assert.Equal(t, []string{"a"}, res.Changed)
}

func TestApply_OverwritesAndPreserves(t *testing.T) {
	current := model.NewRecord("jet", "alex")
	current.Attributes = attrs("a", "1", "b", "2")
	current.Version = 5
	current.CreatedAt = 10

	res := Apply(current, "jet", "alex", attrs("b", "20", "c", "30"), t0)

	assert.False(t, res.Created)
	assert.Equal(t, attrs("a", "1", "b", "20", "c", "30"), res.Record.Attributes)
	assert.Equal(t, int64(6), res.Record.Version)
	assert.Equal(t, int64(10), res.Record.CreatedAt)
	assert.ElementsMatch(t, []string{"b", "c"}, res.Changed)

	// inputs untouched
	assert.Equal(t, attrs("a", "1", "b", "2"), current.Attributes)
	assert.Equal(t, int64(5), current.Version)
}

func TestApply_EmptyIsTouch(t *testing.T) {
	current := model.NewRecord("jet", "alex")
	current.Attributes = attrs("a", "1")
	current.Version = 1

	res := Apply(current, "jet", "alex", nil, t0)

	assert.Equal(t, int64(2), res.Record.Version)
	assert.Equal(t, attrs("a", "1"), res.Record.Attributes)
	assert.Empty(t, res.Changed)
}

func TestApply_IdempotentReMerge(t *testing.T) {
	inputs := []map[string][]byte{
		attrs("a", "1"),
		attrs("a", "1", "b", "2"),
		{},
		{"bin": {0x00, 0x01}},
	}
	for _, m := range inputs {
		once := Apply(nil, "jet", "alex", m, t0).Record
		twice := Apply(once, "jet", "alex", m, t0).Record

		assert.True(t, model.AttributesEqual(once.Attributes, twice.Attributes))
		assert.Equal(t, once.Version+1, twice.Version)
	}
}

func TestApply_DisjointKeysCommute(t *testing.T) {
	a := attrs("a", "1")
	b := attrs("b", "2")

	ab := Apply(Apply(nil, "jet", "alex", a, t0).Record, "jet", "alex", b, t0).Record
	ba := Apply(Apply(nil, "jet", "alex", b, t0).Record, "jet", "alex", a, t0).Record

	assert.True(t, model.AttributesEqual(ab.Attributes, ba.Attributes))
	assert.Equal(t, ab.Version, ba.Version)
}

func TestApply_OverlappingKeysLastWriterWins(t *testing.T) {
	first := Apply(nil, "jet", "alex", attrs("a", "first"), t0).Record
	second := Apply(first, "jet", "alex", attrs("a", "second"), t0.Add(time.Millisecond)).Record

	assert.Equal(t, []byte("second"), second.Attributes["a"])
	assert.Equal(t, t0.Add(time.Millisecond).UnixMilli(), second.UpdatedAt)
}
