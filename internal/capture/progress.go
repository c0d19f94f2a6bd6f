package capture

import (
	"time"

	"github.com/kozaktomas/punchclock/internal/gateway"
)

// SlotView is the state of one slot in a progress snapshot.
type SlotView struct {
	Slot
	Captured   bool       `json:"captured"`
	Validated  bool       `json:"validated"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	Preview    []byte     `json:"preview,omitempty"`
}

// Progress is a point-in-time view of a capture session.
type Progress struct {
	Phase       Phase                  `json:"phase"`
	Identity    string                 `json:"identity"`
	Ready       bool                   `json:"ready"`
	Current     Slot                   `json:"current"`
	Validated   int                    `json:"validated"`
	Required    int                    `json:"required"`
	Percent     float64                `json:"percent"`
	Hint        string                 `json:"hint"`
	Quality     *gateway.QualityResult `json:"quality,omitempty"`
	Banner      *Banner                `json:"banner,omitempty"`
	SubmitError string                 `json:"submit_error,omitempty"`
	Result      *Result                `json:"result,omitempty"`
	Failures    int                    `json:"snapshot_failures"`
	Slots       []SlotView             `json:"slots"`
}

// Complete reports whether every slot was validated, whether or not the
// session has been submitted since.
func (p Progress) Complete() bool {
	return p.Required > 0 && p.Validated == p.Required
}

// Hint is the operator instruction for a quality reading.
func Hint(q *gateway.QualityResult) string {
	switch {
	case q == nil:
		return "Move slowly in a full circle"
	case !q.Detected:
		if q.Message != "" {
			return q.Message
		}
		return "Move your face into the circle"
	case q.Quality == gateway.QualityGood:
		return "Hold still"
	case q.Message != "":
		return q.Message
	default:
		return "Move slowly in a full circle"
	}
}

// Percent is the progress ring value: validated slots plus the cosmetic
// boost, capped at 100.
func Percent(validated, required int, boost float64) float64 {
	if required <= 0 {
		return 0
	}
	return min(100, float64(validated)*(100/float64(required))+boost)
}

// Progress returns the current session snapshot.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := Progress{
		Phase:       o.phase,
		Identity:    o.session.Identity(),
		Ready:       o.ready,
		Current:     o.session.Current(),
		Validated:   o.session.ValidatedCount(),
		Required:    len(o.cfg.Slots),
		Hint:        Hint(o.quality),
		Failures:    o.failures,
		SubmitError: o.submitErr,
	}
	if o.phase == PhaseSubmitted {
		p.Validated = p.Required
	}
	p.Percent = Percent(p.Validated, p.Required, o.boost)
	if o.quality != nil {
		q := *o.quality
		p.Quality = &q
	}
	if o.banner != nil {
		b := *o.banner
		p.Banner = &b
	}
	if o.result != nil {
		r := *o.result
		p.Result = &r
	}

	p.Slots = make([]SlotView, 0, len(o.cfg.Slots))
	for _, sl := range o.cfg.Slots {
		v := SlotView{Slot: sl, Validated: p.Phase == PhaseSubmitted}
		if f, ok := o.session.Frame(sl.ID); ok {
			at := f.CapturedAt
			v.Captured = true
			v.Validated = f.Validated
			v.CapturedAt = &at
			v.Preview = f.Preview
		}
		p.Slots = append(p.Slots, v)
	}
	return p
}
