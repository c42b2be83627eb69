package tour

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Truncate cuts f to n decimal places without rounding. It works on the
// shortest decimal representation of f, so 8.2 stays 8.2 even though
// 8.2*10 is slightly below 82 in binary.
func Truncate(f float64, n int) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || n < 0 {
		return f
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 || len(s)-dot-1 <= n {
		return f
	}

	cut := s[:dot+1+n]
	if n == 0 {
		cut = s[:dot]
	}
	v, err := strconv.ParseFloat(cut, 64)
	if err != nil {
		return f
	}
	return v
}

// Summary is the running tour report.
type Summary struct {
	Attempted      int     `json:"attempted"`
	Succeeded      int     `json:"succeeded"`
	SuccessRate    float64 `json:"success_rate"`    // percent, truncated
	RunningMinutes float64 `json:"running_minutes"` // truncated
	Distance       float64 `json:"distance"`        // metres, truncated
	LastLocation   string  `json:"last_location"`
	Cursor         int     `json:"cursor"`
	Total          int     `json:"total"`
	Done           bool    `json:"done"`
}

// SuccessRate returns succeeded/attempted as a percentage, 0 before the
// first attempt.
func SuccessRate(succeeded, attempted int) float64 {
	if attempted == 0 {
		return 0
	}
	return 100 * float64(succeeded) / float64(attempted)
}

// Summary reports s as of now.
func (s *State) Summary(now time.Time) Summary {
	var minutes float64
	if !s.Start.IsZero() {
		// Whole seconds, as the status clock reports them
		minutes = math.Floor(now.Sub(s.Start).Seconds()) / 60
	}
	return Summary{
		Attempted:      s.Attempted,
		Succeeded:      s.Succeeded,
		SuccessRate:    Truncate(SuccessRate(s.Succeeded, s.Attempted), 1),
		RunningMinutes: Truncate(minutes, 1),
		Distance:       Truncate(s.Distance, 1),
		LastLocation:   s.LastLocation,
		Cursor:         s.Cursor,
		Total:          len(s.Sequence),
		Done:           s.Done(),
	}
}
