package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(id int, priority int) *TCB {
	return &TCB{
		id:                TaskID(id),
		basePriority:      priority,
		effectivePriority: priority,
		readyBucket:       -1,
	}
}

func TestReadyQueueFirstNonEmptyAcrossWordBoundary(t *testing.T) {
	q := newReadyQueue(130) // three bitmap words
	require.Equal(t, -1, q.firstNonEmpty())

	t2 := newTestTask(1, 70)
	q.pushBackTask(t2)
	assert.Equal(t, 70, q.firstNonEmpty())

	t1 := newTestTask(2, 5)
	q.pushBackTask(t1)
	assert.Equal(t, 5, q.firstNonEmpty())
}

func TestReadyQueueFIFOWithinBucket(t *testing.T) {
	q := newReadyQueue(8)
	a := newTestTask(1, 3)
	b := newTestTask(2, 3)
	c := newTestTask(3, 3)
	q.pushBackTask(a)
	q.pushBackTask(b)
	q.pushBackTask(c)

	require.Equal(t, 3, q.firstNonEmpty())
	got := q.popFrontBucket(3)
	assert.Same(t, a, got)
	got = q.popFrontBucket(3)
	assert.Same(t, b, got)
	got = q.popFrontBucket(3)
	assert.Same(t, c, got)
	assert.Equal(t, -1, q.firstNonEmpty())
}

func TestPopFrontTaskEmptyQueueKeepsIdle(t *testing.T) {
	q := newReadyQueue(16)
	// No task has ever run (prevPriority sentinel == numPriorities) and the
	// queue is empty: must Keep (stay idle), never mistakenly "switch" to a
	// nonexistent bucket. This is the regression case for the off-by-one
	// sentinel bug (empty-bucket sentinel colliding with a real low-priority
	// bucket index).
	res := q.popFrontTask(q.numPriorities)
	assert.True(t, res.keep)
}

func TestPopFrontTaskPreemptsToHigherPriority(t *testing.T) {
	q := newReadyQueue(16)
	hi := newTestTask(1, 2)
	q.pushBackTask(hi)

	res := q.popFrontTask(10) // something low-priority (or nothing) was running
	require.True(t, res.didSwitch)
	assert.Same(t, hi, res.switchTo)
}

func TestPopFrontTaskKeepsRunningWhenNoHigherPriorityReady(t *testing.T) {
	q := newReadyQueue(16)
	lo := newTestTask(1, 9)
	q.pushBackTask(lo)

	// A task at priority 3 is running; nothing in the queue outranks it.
	res := q.popFrontTask(3)
	assert.True(t, res.keep)
}

func TestReorderTaskMovesBetweenBuckets(t *testing.T) {
	q := newReadyQueue(16)
	a := newTestTask(1, 5)
	q.pushBackTask(a)
	require.Equal(t, 5, a.readyBucket)

	q.reorderTask(a, 1, 5)
	assert.Equal(t, 1, a.readyBucket)
	assert.Equal(t, 1, a.effectivePriority)
	assert.Equal(t, 1, q.firstNonEmpty())
}

func TestRemoveTaskFromMiddleOfBucket(t *testing.T) {
	q := newReadyQueue(16)
	a := newTestTask(1, 4)
	b := newTestTask(2, 4)
	c := newTestTask(3, 4)
	q.pushBackTask(a)
	q.pushBackTask(b)
	q.pushBackTask(c)

	q.removeTask(b)
	got := q.popFrontBucket(4)
	assert.Same(t, a, got)
	got = q.popFrontBucket(4)
	assert.Same(t, c, got)
	assert.Equal(t, -1, q.firstNonEmpty())
}

func TestHasReadyTaskInPriorityRange(t *testing.T) {
	q := newReadyQueue(16)
	assert.False(t, q.hasReadyTaskInPriorityRange(16))
	q.pushBackTask(newTestTask(1, 7))
	assert.True(t, q.hasReadyTaskInPriorityRange(8))
	assert.False(t, q.hasReadyTaskInPriorityRange(7))
}
