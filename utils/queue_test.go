package utils

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/drpcorg/steit/steit_errors"
	"github.com/stretchr/testify/assert"
)

type records [][]byte

func TestQueueOrder(t *testing.T) {
	const N = 1 << 10
	const K = 1 << 3

	queue := NewQueue[records](1<<20, 64)
	ctx := context.Background()

	for k := 0; k < K; k++ {
		go func(k int) {
			i := uint64(k) << 32
			for n := uint64(0); n < N; n++ {
				var b [8]byte
				binary.LittleEndian.PutUint64(b[:], i|n)
				assert.Nil(t, queue.Drain(ctx, records{b[:]}))
			}
		}(k)
	}

	check := [K]int{}
	for i := 0; i < N*K; {
		nums, err := queue.Feed(ctx)
		assert.Nil(t, err)
		for _, num := range nums {
			assert.Equal(t, 8, len(num))
			j := binary.LittleEndian.Uint64(num)
			k := int(j >> 32)
			n := int(j & 0xffffffff)
			assert.Equal(t, check[k], n)
			check[k] = n + 1
			i++
		}
	}
	assert.Equal(t, 0, queue.Size())

	assert.Nil(t, queue.Close())
	assert.Equal(t, steit_errors.ErrClosed, queue.Drain(ctx, records{{'a'}}))
	_, err := queue.Feed(ctx)
	assert.Equal(t, steit_errors.ErrClosed, err)
}

func TestQueueLimits(t *testing.T) {
	queue := NewQueue[records](10, 4)
	ctx := context.Background()

	assert.Nil(t, queue.Drain(ctx, records{[]byte("abc"), []byte("def")}))
	assert.Equal(t, steit_errors.ErrOverflow, queue.Drain(ctx, records{[]byte("ghijk")}))
	assert.Nil(t, queue.Drain(ctx, records{[]byte("gh")}))
	assert.Equal(t, 3, queue.Len())

	recs, err := queue.Feed(ctx)
	assert.Nil(t, err)
	assert.Equal(t, records{[]byte("abc"), []byte("def")}, recs)
	recs, err = queue.Feed(ctx)
	assert.Nil(t, err)
	assert.Equal(t, records{[]byte("gh")}, recs)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = queue.Feed(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
