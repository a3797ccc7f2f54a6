package similarity

// Label buckets a Score.
type Label int

// Labels from best to worst; LabelNA marks an absent score.
const (
	LabelNA Label = iota
	LabelExcellent
	LabelGood
	LabelAcceptable
	LabelPoor
)

// Lower bounds, inclusive.
const (
	ExcellentFloor  = 0.6
	GoodFloor       = 0.4
	AcceptableFloor = 0.3
)

// LabelFor maps a score to its bucket.
func LabelFor(s Score) Label {
	switch {
	case !s.Valid:
		return LabelNA
	case s.Value >= ExcellentFloor:
		return LabelExcellent
	case s.Value >= GoodFloor:
		return LabelGood
	case s.Value >= AcceptableFloor:
		return LabelAcceptable
	default:
		return LabelPoor
	}
}

// String returns the text written to the label cell.
func (l Label) String() string {
	switch l {
	case LabelExcellent:
		return "🟢 Excellent (0.6+)"
	case LabelGood:
		return "🟡 Good (0.4-0.59)"
	case LabelAcceptable:
		return "🟠 Acceptable (0.3-0.39)"
	case LabelPoor:
		return "🔴 Poor (<0.3)"
	default:
		return "N/A"
	}
}
