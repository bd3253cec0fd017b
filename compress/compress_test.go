package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviders(t *testing.T) {
	payload := bytes.Repeat([]byte("zookeeper node payload "), 200)

	for _, name := range []string{"none", "gzip", "zstd", "lz4"} {
		t.Run(name, func(t *testing.T) {
			p, err := Parse(name)
			require.Equal(t, nil, err)

			compressed, err := p.Compress("/workers/w1", payload)
			require.Equal(t, nil, err)
			if name != "none" {
				assert.Less(t, len(compressed), len(payload))
			}

			data, err := p.Decompress("/workers/w1", compressed)
			require.Equal(t, nil, err)
			assert.Equal(t, payload, data)
		})
	}

	t.Run("empty data", func(t *testing.T) {
		for _, name := range []string{"gzip", "zstd", "lz4"} {
			p, err := Parse(name)
			require.Equal(t, nil, err)

			compressed, err := p.Compress("/a", nil)
			require.Equal(t, nil, err)

			data, err := p.Decompress("/a", compressed)
			require.Equal(t, nil, err)
			assert.Equal(t, 0, len(data), name)
		}
	})

	t.Run("corrupted input", func(t *testing.T) {
		p, err := Parse("gzip")
		require.Equal(t, nil, err)

		_, err = p.Decompress("/a", []byte("not gzip"))
		assert.ErrorContains(t, err, "gzip decompress /a")
	})

	t.Run("unknown codec", func(t *testing.T) {
		p, err := Parse("snappy")
		assert.ErrorIs(t, err, ErrUnknownCodec)
		assert.Nil(t, p)
	})
}
