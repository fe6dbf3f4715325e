package cid

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestComputeKeyOrderInvariance(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := rapid.MapOfN(
			rapid.StringMatching(`[a-z]{1,8}`),
			rapid.Int64(),
			1, 8,
		).Draw(t, "props")

		// Emit the same object with keys in reverse lexical order. The
		// canonical form must erase the difference.
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			require.NoError(t, err)
			sb.Write(kb)
			sb.WriteByte(':')
			fmt.Fprintf(&sb, "%d", m[k])
		}
		sb.WriteByte('}')

		fromMap, err := Compute(m)
		require.NoError(t, err)
		fromRaw, err := Compute(json.RawMessage(sb.String()))
		require.NoError(t, err)
		assert.Equal(t, fromMap, fromRaw)
	})
}

func TestComputeDiffersByContent(t *testing.T) {
	a, err := Compute(map[string]string{"k": "a"})
	require.NoError(t, err)
	b, err := Compute(map[string]string{"k": "b"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestComputeDiffersByAlgorithm(t *testing.T) {
	sha := Computer{Algo: Sha256}
	blake := Computer{Algo: Blake3}

	doc := map[string]int{"n": 42}
	a, err := sha.Compute(doc)
	require.NoError(t, err)
	b, err := blake.Compute(doc)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	assert.True(t, sha.Verify(doc, a))
	assert.False(t, sha.Verify(doc, b))
	assert.True(t, blake.Verify(doc, b))
}

func TestComputeRejectsNonFinite(t *testing.T) {
	_, err := Compute(map[string]float64{"x": math.NaN()})
	assert.Error(t, err)
}

func TestParseRoundtrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var c Cid
		copy(c[:], rapid.SliceOfN(rapid.Byte(), Size, Size).Draw(t, "digest"))

		parsed, err := Parse(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	})
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse("abc")
	assert.Error(t, err)
	_, err = Parse(strings.Repeat("zz", Size))
	assert.Error(t, err)
}

func TestCidJSONRoundtrip(t *testing.T) {
	c, err := Compute("hello")
	require.NoError(t, err)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var back Cid
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c, back)
}
