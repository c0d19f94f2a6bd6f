// Package events decodes the recognition event feed into a closed set of
// event types.
//
// Every event kind the client acts on has its own struct implementing
// Event. Consumers switch on the concrete type:
//
//	switch e := ev.(type) {
//	case *events.FaceDetected:
//	case *events.PersonRecognized:
//	case *events.DuplicatePunch:
//	case *events.Status:
//	case *events.Error:
//	case *events.Heartbeat:
//	}
//
// The marker method keeps the set closed to this package, so a new kind
// only appears together with a change here.
package events

import (
	"time"

	"github.com/kozaktomas/punchclock/internal/constants"
)

// Kind is the wire "type" discriminator.
type Kind string

// Kind values the client understands.
const (
	KindFaceDetected     Kind = "face_detected"
	KindPersonRecognized Kind = "person_recognized"
	KindDuplicatePunch   Kind = "duplicate_punch"
	KindStatus           Kind = "status"
	KindError            Kind = "error"
	KindHeartbeat        Kind = "heartbeat"
)

// Kinds lists every kind Decode accepts.
var Kinds = []Kind{
	KindFaceDetected,
	KindPersonRecognized,
	KindDuplicatePunch,
	KindStatus,
	KindError,
	KindHeartbeat,
}

// Event is one decoded recognition event. Events are read-only once decoded.
type Event interface {
	Kind() Kind
	// Time is the server timestamp, or the receive time when the server
	// sent none.
	Time() time.Time
	sealed()
}

type header struct {
	At time.Time `json:"timestamp"`
}

func (h header) Time() time.Time { return h.At }
func (header) sealed()           {}

// Face is one detected face. Boxes are in the reference resolution of the
// stream that reported them (640x480 unless the event says otherwise).
type Face struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Recognized bool    `json:"recognized"`
	PersonID   string  `json:"person_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Department string  `json:"department,omitempty"`
	Photo      string  `json:"photo,omitempty"`
	Age        int     `json:"age,omitempty"`
	Emotion    string  `json:"emotion,omitempty"`
	Spoof      bool    `json:"spoof,omitempty"`
}

// Box is a face rectangle as fractions (0..1) of the frame.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Normalize converts the face rectangle to frame fractions given the
// reference resolution it was reported in. Zero dimensions fall back to
// the default reference resolution.
func (f Face) Normalize(refWidth, refHeight int) Box {
	if refWidth <= 0 {
		refWidth = constants.ReferenceWidth
	}
	if refHeight <= 0 {
		refHeight = constants.ReferenceHeight
	}
	w, h := float64(refWidth), float64(refHeight)
	return Box{
		Left:   f.X / w,
		Top:    f.Y / h,
		Width:  f.Width / w,
		Height: f.Height / h,
	}
}

// Label is the text shown on a face box.
func (f Face) Label() string {
	if !f.Recognized {
		return constants.UnknownName
	}
	if f.Name == "" {
		return "Recognized"
	}
	return f.Name
}

// FaceDetected replaces the active face set. An empty Faces clears it.
type FaceDetected struct {
	header
	Faces        []Face
	StreamWidth  int
	StreamHeight int
}

func (*FaceDetected) Kind() Kind { return KindFaceDetected }

// Person is the identity payload of a recognition. Every field is optional;
// the overlay resolves missing ones against the employee directory.
type Person struct {
	EmployeeID   string
	ID           string
	Name         string
	EmployeeName string
	Department   string
	Photo        string
	LogID        string
	EventType    string
	Confidence   float64
	At           *time.Time
}

// Key returns the best available lookup key for the directory.
func (p Person) Key() string {
	return firstNonEmpty(p.EmployeeID, p.ID, p.Name)
}

// PersonRecognized reports a punch for a recognized identity.
type PersonRecognized struct {
	header
	Person Person
}

func (*PersonRecognized) Kind() Kind { return KindPersonRecognized }

// DuplicatePunch reports a recognition inside the cooldown window of an
// earlier punch for the same identity.
type DuplicatePunch struct {
	header
	EmployeeID   string
	EmployeeName string
	Name         string
	EventType    string
	// LastPunch takes precedence over Elapsed when both are present.
	LastPunch *time.Time
	// Elapsed is the server's seconds-since-last-punch at send time.
	Elapsed *float64
}

func (*DuplicatePunch) Kind() Kind { return KindDuplicatePunch }

// Key returns the identity used for directory lookup.
func (d *DuplicatePunch) Key() string {
	return firstNonEmpty(d.EmployeeID, d.Name)
}

// Statistics are the server-side counters carried on status events.
type Statistics struct {
	TotalFaces      int     `json:"totalFaces"`
	RecognizedFaces int     `json:"recognizedFaces"`
	EventsReceived  int     `json:"eventsReceived"`
	Uptime          float64 `json:"uptime"`
}

// Status is the periodic pipeline snapshot. Its recognitions are mapped
// into Faces, so an empty Faces clears the active set just like
// FaceDetected.
type Status struct {
	header
	Faces        []Face
	Statistics   *Statistics
	CameraActive *bool
}

func (*Status) Kind() Kind { return KindStatus }

// Error is a recognition pipeline error. It never affects the connection.
type Error struct {
	header
	Message string
}

func (*Error) Kind() Kind { return KindError }

// Heartbeat keeps an idle connection alive.
type Heartbeat struct {
	header
}

func (*Heartbeat) Kind() Kind { return KindHeartbeat }

// FacesOf returns the face list of a face-bearing event.
// The second result is false for kinds that carry no face list.
func FacesOf(ev Event) ([]Face, bool) {
	switch e := ev.(type) {
	case *FaceDetected:
		return e.Faces, true
	case *Status:
		return e.Faces, true
	default:
		return nil, false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
