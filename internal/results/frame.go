package results

import (
	"math"

	"github.com/banshee-data/beadtrack/internal/track"
)

// FrameResult is the in-memory bucket for one frame: one slot per bead
// plus the frame's auxiliary columns.
type FrameResult struct {
	Frame        int
	Results      []track.LocalizationResult // indexed by bead
	Filled       []bool
	Count        int // filled slots of beads that have not been removed
	Timestamp    float64
	FrameInfo    []float32
	HasFrameInfo bool

	saved bool // handed to the writer
	lost  bool // counted in LostFrames
}

func newFrameResult(frame, numBeads, numInfo int) *FrameResult {
	return &FrameResult{
		Frame:     frame,
		Results:   make([]track.LocalizationResult, numBeads),
		Filled:    make([]bool, numBeads),
		FrameInfo: make([]float32, numInfo),
	}
}

func (fr *FrameResult) clone() FrameResult {
	c := *fr
	c.Results = append([]track.LocalizationResult(nil), fr.Results...)
	c.Filled = append([]bool(nil), fr.Filled...)
	c.FrameInfo = append([]float32(nil), fr.FrameInfo...)
	return c
}

// FrameCounters is a snapshot of the aggregator's progress.
type FrameCounters struct {
	StartFrame        int  `json:"start_frame"`      // first frame still in memory
	ProcessedFrames   int  `json:"processed_frames"` // first frame that is not complete
	LastSaveFrame     int  `json:"last_save_frame"`  // first frame not yet handed to the writer
	CapturedFrames    int  `json:"captured_frames"`  // one past the newest frame seen
	LocalizationsDone int  `json:"localizations_done"`
	LostFrames        int  `json:"lost_frames"`
	DroppedResults    int  `json:"dropped_results"` // late or duplicate results
	FileError         bool `json:"file_error"`
}

// Row is one frame as handed to a Writer. Positions are already
// transformed; slots that never received a result hold NaN.
type Row struct {
	Frame     int
	Timestamp float64
	Positions []Vector3f
	Removed   []bool // beads excluded from output
	FrameInfo []float32
}

// BeadPosition is one bead's raw position in one frame.
type BeadPosition struct {
	Frame       int          `json:"frame"`
	Timestamp   float64      `json:"timestamp"`
	Pos         track.Point3 `json:"pos"`
	BoundaryHit bool         `json:"boundary_hit"`
}

var nan32 = float32(math.NaN())

func nanVector() Vector3f { return Vector3f{nan32, nan32, nan32} }
