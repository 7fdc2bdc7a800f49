package partition

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func roster(n int) ([]string, []uint64) {
	addrs := make([]string, n)
	numbers := make([]uint64, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("p%02d", i+1)
		numbers[i] = uint64(i + 1)
	}
	return addrs, numbers
}

func TestSplit_EvenDistribution(t *testing.T) {
	addrs, numbers := roster(21)
	shards, err := Split(addrs, numbers, 5)
	require.NoError(t, err)
	require.Len(t, shards, 5)

	total := 0
	seen := map[string]bool{}
	for _, sh := range shards {
		require.Len(t, sh.Numbers, len(sh.Addresses))
		size := len(sh.Addresses)
		require.True(t, size == 4 || size == 5, "shard size %d", size)
		total += size
		for _, a := range sh.Addresses {
			require.False(t, seen[a], "duplicate %s across shards", a)
			seen[a] = true
		}
	}
	require.Equal(t, 21, total)
}

func TestSplit_SingleShardWhenUnderMax(t *testing.T) {
	addrs, numbers := roster(4)
	shards, err := Split(addrs, numbers, 10)
	require.NoError(t, err)
	require.Len(t, shards, 1)
	require.Len(t, shards[0].Addresses, 4)
}

func TestSplit_Rejections(t *testing.T) {
	addrs, numbers := roster(3)

	_, err := Split(nil, nil, 5)
	require.Error(t, err, "empty roster")

	_, err = Split(addrs, numbers[:2], 5)
	require.Error(t, err, "length mismatch")

	_, err = Split([]string{"a", "a"}, []uint64{1, 2}, 5)
	require.Error(t, err, "duplicate address")

	_, err = Split(addrs, numbers, 0)
	require.Error(t, err, "non-positive max size")
}

func TestSplitExact_DivisibleOnly(t *testing.T) {
	addrs, numbers := roster(9)
	shards, err := SplitExact(addrs, numbers, 3)
	require.NoError(t, err)
	require.Len(t, shards, 3)
	for _, sh := range shards {
		require.Len(t, sh.Addresses, 3)
	}

	addrs, numbers = roster(10)
	_, err = SplitExact(addrs, numbers, 3)
	require.Error(t, err, "non-divisible pool must be rejected, never padded or dropped")
}
