package dvbrx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPipebufFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var size = rapid.IntRange(1, 64).Draw(t, "size")
		var p = newPipebuf[int](nil, "test", size)
		var next, expect int

		var ops = rapid.IntRange(1, 200).Draw(t, "ops")
		for range ops {
			if rapid.Bool().Draw(t, "write") {
				var n = rapid.IntRange(0, p.writable()).Draw(t, "nw")
				var w = p.wr()
				for i := range n {
					w[i] = next
					next++
				}
				p.written(n)
			} else {
				var n = rapid.IntRange(0, p.readable()).Draw(t, "nr")
				for _, v := range p.rd()[:n] {
					assert.Equal(t, expect, v)
					expect++
				}
				p.read(n)
			}
			assert.Equal(t, next-expect, p.readable())
			assert.LessOrEqual(t, p.readable(), size)
		}
	})
}

func TestPipebufReserve(t *testing.T) {
	var p = newPipebuf[byte](nil, "test", 4)
	p.write(1)
	p.write(2)
	p.read(1)
	p.reserve(16)
	require.Equal(t, 1, p.readable())
	assert.Equal(t, byte(2), p.rd()[0])
	assert.Equal(t, 15, p.writable())
}

type copyStage struct {
	in, out *pipebuf[int]
	chunk   int
}

func (c *copyStage) run() {
	for c.in.readable() >= 1 && c.out.writable() >= 1 {
		var n = min(c.in.readable(), c.out.writable(), c.chunk)
		copy(c.out.wr(), c.in.rd()[:n])
		c.in.read(n)
		c.out.written(n)
	}
}

func TestSchedulerDrain(t *testing.T) {
	var sch = newScheduler(nil)
	var a = newPipebuf[int](sch, "a", 100)
	var b = newPipebuf[int](sch, "b", 7)
	var c = newPipebuf[int](sch, "c", 100)
	sch.add(&copyStage{in: a, out: b, chunk: 3})
	sch.add(&copyStage{in: b, out: c, chunk: 5})

	for i := range 100 {
		a.write(i)
	}
	sch.drain()

	require.Equal(t, 100, c.readable())
	for i, v := range c.rd() {
		assert.Equal(t, i, v)
	}
	assert.False(t, sch.step(), "idle pipeline must report no progress")
}
