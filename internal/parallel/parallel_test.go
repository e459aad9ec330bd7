package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8}

	var counter int64
	seen := make([]int32, 1000)
	For(len(seen), func(i int) {
		atomic.AddInt64(&counter, 1)
		atomic.AddInt32(&seen[i], 1)
	}, cfg)

	assert.Equal(t, int64(1000), counter)
	for i, v := range seen {
		assert.Equal(t, int32(1), v, "index %d", i)
	}
}

func TestFor_Sequential(t *testing.T) {
	var order []int
	For(5, func(i int) {
		order = append(order, i)
	}, Sequential())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestForGrid(t *testing.T) {
	rows, cols := 3, 7
	hits := make([][]int32, rows)
	for r := range hits {
		hits[r] = make([]int32, cols)
	}

	ForGrid(rows, cols, func(r, c int) {
		atomic.AddInt32(&hits[r][c], 1)
	}, Config{Enabled: true, NumWorkers: 3, MinChunkSize: 2})

	for r := range hits {
		for c := range hits[r] {
			assert.Equal(t, int32(1), hits[r][c], "cell [%d][%d]", r, c)
		}
	}

	ForGrid(4, 0, func(_, _ int) { t.Fatal("should not be called") }, DefaultConfig())
}
