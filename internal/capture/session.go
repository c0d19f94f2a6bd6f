package capture

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slot is one required capture angle.
type Slot struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DefaultSlots returns n slots with ids capture_1..capture_n.
func DefaultSlots(n int) []Slot {
	slots := make([]Slot, n)
	for i := range slots {
		slots[i] = Slot{
			ID:    fmt.Sprintf("capture_%d", i+1),
			Label: fmt.Sprintf("Capture %d", i+1),
		}
	}
	return slots
}

// Frame is one captured image for a slot.
type Frame struct {
	Slot       string
	Data       []byte
	Preview    []byte
	CapturedAt time.Time
	Validated  bool
}

// release drops the image buffers.
func (f *Frame) release() {
	f.Data = nil
	f.Preview = nil
}

// Session holds the captures of one registration attempt. It is not safe
// for concurrent use; the Orchestrator serializes access.
type Session struct {
	identity string
	slots    []Slot
	frames   map[string]*Frame
	current  int
}

// NewSession creates an empty session over the given slots.
func NewSession(slots []Slot) *Session {
	return &Session{
		slots:  slices.Clone(slots),
		frames: make(map[string]*Frame, len(slots)),
	}
}

// NormalizeIdentity trims, collapses inner whitespace and applies Unicode
// NFC so visually equal names register under the same identity.
func NormalizeIdentity(s string) string {
	return norm.NFC.String(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}

// Identity returns the normalized identity string.
func (s *Session) Identity() string { return s.identity }

// SetIdentity changes the identity. Captured frames are kept.
func (s *Session) SetIdentity(identity string) {
	s.identity = NormalizeIdentity(identity)
}

func (s *Session) slotIndex(id string) int {
	return slices.IndexFunc(s.slots, func(sl Slot) bool { return sl.ID == id })
}

// Commit stores f for its slot, replacing and releasing any previous frame.
func (s *Session) Commit(f *Frame) error {
	if s.slotIndex(f.Slot) < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, f.Slot)
	}
	if prev, ok := s.frames[f.Slot]; ok && prev != f {
		prev.release()
	}
	s.frames[f.Slot] = f
	return nil
}

// Reset drops the frame of one slot so it has to be captured again.
func (s *Session) Reset(slotID string) error {
	if s.slotIndex(slotID) < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slotID)
	}
	if prev, ok := s.frames[slotID]; ok {
		prev.release()
		delete(s.frames, slotID)
	}
	return nil
}

// IsValidated reports whether slotID holds a validated frame.
func (s *Session) IsValidated(slotID string) bool {
	f, ok := s.frames[slotID]
	return ok && f.Validated
}

// Frame returns the frame captured for slotID, if any.
func (s *Session) Frame(slotID string) (*Frame, bool) {
	f, ok := s.frames[slotID]
	return f, ok
}

// ValidatedCount is the number of slots holding a validated frame.
func (s *Session) ValidatedCount() int {
	n := 0
	for _, sl := range s.slots {
		if s.IsValidated(sl.ID) {
			n++
		}
	}
	return n
}

// Complete reports whether every slot holds a validated frame.
func (s *Session) Complete() bool {
	return len(s.slots) > 0 && s.ValidatedCount() == len(s.slots)
}

// Missing lists the ids of slots without a validated frame.
func (s *Session) Missing() []string {
	var missing []string
	for _, sl := range s.slots {
		if !s.IsValidated(sl.ID) {
			missing = append(missing, sl.ID)
		}
	}
	return missing
}

// Current is the slot being captured.
func (s *Session) Current() Slot {
	if len(s.slots) == 0 {
		return Slot{}
	}
	return s.slots[s.current]
}

// Advance moves the current slot to the first one without a validated
// frame. A complete session keeps its current slot.
func (s *Session) Advance() {
	for i, sl := range s.slots {
		if !s.IsValidated(sl.ID) {
			s.current = i
			return
		}
	}
}

// ValidatedFrames returns the validated frames in slot order.
func (s *Session) ValidatedFrames() []*Frame {
	frames := make([]*Frame, 0, len(s.slots))
	for _, sl := range s.slots {
		if f, ok := s.frames[sl.ID]; ok && f.Validated {
			frames = append(frames, f)
		}
	}
	return frames
}

// Release drops every frame and its buffers.
func (s *Session) Release() {
	for id, f := range s.frames {
		f.release()
		delete(s.frames, id)
	}
	s.current = 0
}
