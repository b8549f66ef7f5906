package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxd/boxd/domain"
)

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		result domain.Result
	}{
		{
			name: "ok",
			result: &domain.OkResult{
				Si:      domain.Si{Code: 1, Status: 0},
				Runtime: 1500 * time.Millisecond,
				Cgroup: domain.CgroupStats{
					CPUTime:         domain.CPUTime{UserUsec: 1000, SystemUsec: 250},
					PeakMemoryBytes: 4096,
				},
			},
		},
		{
			name:   "error",
			result: &domain.ErrorResult{Description: "pid1: mount tmpfs - permission denied"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := EncodeResponse(tt.result)
			require.NoError(t, err)

			got, err := DecodeResponse(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.result, got)
		})
	}
}

func TestEncodeResponseRejectsEmbeddedNUL(t *testing.T) {
	_, err := EncodeResponse(&domain.ErrorResult{Description: "bad\x00description"})
	require.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := EncodeHeader(42)
	n, err := DecodeHeader(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	require.NoError(t, CheckBodyLen(42, 42))
	require.Error(t, CheckBodyLen(42, 41))
}
