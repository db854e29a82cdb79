package document

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	path, err := ParsePath("experience[0].achievements[2]")
	require.NoError(t, err)
	assert.Equal(t, Path{
		{Kind: KeyToken, Key: "experience"},
		{Kind: IndexToken, Index: 0},
		{Kind: KeyToken, Key: "achievements"},
		{Kind: IndexToken, Index: 2},
	}, path)
	assert.Equal(t, "experience[0].achievements[2]", path.String())
}

func TestParsePath_NestedIndices(t *testing.T) {
	path, err := ParsePath("matrix[1][12]")
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, 12, path[2].Index)
}

func TestParsePath_Invalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		".summary",
		"summary.",
		"a..b",
		"skills[-1]",
		"skills[x]",
		"skills[]",
		"skills[1",
		"skills]",
		"skills[0]name",
		"a.[0]",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParsePath(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOperation), "got %v", err)
		})
	}
}
