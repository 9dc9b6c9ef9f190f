package queue

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beadtrack/internal/testutil"
	"github.com/banshee-data/beadtrack/internal/track"
)

func newTestQueue(t *testing.T, threads int) *CPUQueue {
	t.Helper()
	q, err := NewCPUQueue(Config{
		Tracker: track.Settings{
			Width: 48, Height: 48,
			QIIterations: 5, QIMinRadius: 1, QIMaxRadius: 16,
		},
		NumThreads:   threads,
		MaxQueueSize: 8,
	})
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func TestNewCPUQueue_InvalidSettings(t *testing.T) {
	t.Parallel()

	_, err := NewCPUQueue(Config{})
	assert.ErrorIs(t, err, track.ErrInvalidArgument)
}

func TestCPUQueue_Defaults(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, 0)
	cfg := q.Config()
	assert.Positive(t, cfg.NumThreads)
	assert.Equal(t, 8, cfg.MaxQueueSize)
	cur, max := q.QueueLength()
	assert.Equal(t, 0, cur)
	assert.Equal(t, 8, max)
	assert.True(t, q.IsIdle())
}

func TestCPUQueue_ScheduleAndPoll(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, 3)

	const frames, beads = 10, 2
	for f := 0; f < frames; f++ {
		for b := 0; b < beads; b++ {
			cx := 22 + float64(b)*2.5
			img := testutil.GaussianSpot(48, 48, cx, 24.3, 4, 100, 10)
			job := track.LocalizationJob{Frame: f, Bead: b, Timestamp: float64(f) * 0.1, Mode: track.LocalizeQI}
			require.NoError(t, q.ScheduleFloat(img, job))
		}
	}
	q.Flush()
	assert.True(t, q.IsIdle())
	assert.Equal(t, frames*beads, q.ResultCount())

	first := q.PollFinished(5)
	assert.Len(t, first, 5)
	rest := q.PollFinished(0)
	assert.Len(t, rest, frames*beads-5)
	assert.Empty(t, q.PollFinished(10))

	all := append(first, rest...)
	sort.Slice(all, func(i, j int) bool {
		if all[i].Frame() != all[j].Frame() {
			return all[i].Frame() < all[j].Frame()
		}
		return all[i].Bead() < all[j].Bead()
	})
	for i, r := range all {
		assert.Equal(t, i/beads, r.Frame())
		assert.Equal(t, i%beads, r.Bead())
		testutil.AssertNear(t, "x", r.Pos.X, 22+float64(r.Bead())*2.5, 0.1)
		testutil.AssertNear(t, "y", r.Pos.Y, 24.3, 0.1)
	}
}

func TestCPUQueue_RejectsBadInput(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, 1)

	err := q.Schedule(make([]byte, 10), 0, track.PixelU8, track.LocalizationJob{})
	assert.ErrorIs(t, err, track.ErrInvalidArgument)

	err = q.Schedule(make([]byte, 48*48), 0, track.PixelFormat(9), track.LocalizationJob{})
	assert.ErrorIs(t, err, track.ErrInvalidArgument)
	assert.True(t, q.IsIdle())
}

func TestCPUQueue_ZLUTFanOut(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, 2)
	_, ok := q.ZLUT()
	assert.False(t, ok)

	z, err := track.NewZLUT(make([]float64, 2*4*8), 2, 4, 8, 1, 10, 16, track.CompareSpatial, true)
	require.NoError(t, err)
	q.SetZLUT(z)
	got, ok := q.ZLUT()
	require.True(t, ok)
	assert.Same(t, z, got)
	for _, w := range q.workers {
		installed, ok := w.engine.ZLUT()
		assert.True(t, ok)
		assert.Same(t, z, installed)
	}

	// bead beyond the table
	pix := make([]byte, 48*48)
	err = q.Schedule(pix, 0, track.PixelU8, track.LocalizationJob{Bead: 5, Mode: track.LocalizeZ})
	assert.ErrorIs(t, err, track.ErrInvalidArgument)
	require.NoError(t, q.Schedule(pix, 0, track.PixelU8, track.LocalizationJob{Bead: 1, Mode: track.LocalizeZ}))
	q.Flush()
	assert.Len(t, q.PollFinished(0), 1)
}

func TestCPUQueue_Close(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, 2)
	pix := make([]byte, 48*48)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Schedule(pix, 0, track.PixelU8, track.LocalizationJob{Frame: i}))
	}
	q.Close()
	q.Close()

	// jobs queued before Close are still processed
	assert.Len(t, q.PollFinished(0), 4)
	assert.ErrorIs(t, q.Schedule(pix, 0, track.PixelU8, track.LocalizationJob{}), ErrQueueClosed)
}
