package fingerprint

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{
			name:    "empty content",
			content: []byte{},
		},
		{
			name:    "small document",
			content: []byte("quarterly revenue grew 12% year over year"),
		},
		{
			name:    "binary content",
			content: []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff, 0x10},
		},
		{
			name:    "content larger than one hash block",
			content: bytes.Repeat([]byte("balance sheet "), 4096),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := File(bytes.NewReader(tt.content))
			require.NoError(t, err)
			second, err := File(bytes.NewReader(tt.content))
			require.NoError(t, err)

			assert.Equal(t, first, second, "identical bytes must fingerprint identically")
			assert.Len(t, first, 64, "sha-256 hex digest length")
		})
	}
}

func TestFile_SingleByteDifference(t *testing.T) {
	base := []byte("annual report 2024: net income $4.2M")
	changed := append([]byte(nil), base...)
	changed[len(changed)-1]++

	a, err := File(bytes.NewReader(base))
	require.NoError(t, err)
	b, err := File(bytes.NewReader(changed))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk gone")
}

func TestFile_ReadError(t *testing.T) {
	_, err := File(failingReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hashing file content")
}

func TestQuery(t *testing.T) {
	q := "summarize the risk factors"

	assert.Equal(t, Query(q), Query(q))
	assert.Len(t, Query(q), 64)
	assert.NotEqual(t, Query(q), Query(q+" "), "query fingerprints cover exact bytes")
	assert.NotEqual(t, Query(q), Query(strings.ToUpper(q)))
}

func TestFile_MatchesQueryOnSameBytes(t *testing.T) {
	// The two helpers use the same digest, so the same bytes agree. The
	// cache keys them separately, but the property keeps test vectors easy
	// to precompute.
	content := "identical bytes"
	fromFile, err := File(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, Query(content), fromFile)
}
