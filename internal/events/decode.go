package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kozaktomas/punchclock/internal/constants"
)

var (
	// ErrMalformed is returned for payloads that are not a JSON event object.
	ErrMalformed = errors.New("malformed event")
	// ErrUnknownKind is returned for well-formed events of a kind the client
	// does not act on (connection banners, check_in/check_out echoes).
	ErrUnknownKind = errors.New("unknown event kind")
	// ErrMissingData is returned when a kind that needs a data object has none.
	ErrMissingData = errors.New("event has no data")
)

// flexString accepts a JSON string, number or bool. The backend sends
// employee ids as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("unmarshal string: %w", err)
		}
		*f = flexString(s)
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		// Not an identifier; treat as absent.
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexFloat accepts a JSON number or a numeric string; anything else is zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(bytes.Trim(bytes.TrimSpace(b), `"`)))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		*f = 0
		return nil
	}
	v, err := n.Float64()
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// flexBool accepts a JSON bool, "true"/"false" strings or a number. Other
// values leave it unset.
type flexBool struct {
	value bool
	valid bool
}

func (f *flexBool) UnmarshalJSON(b []byte) error {
	*f = flexBool{}
	s := strings.ToLower(strings.Trim(string(bytes.TrimSpace(b)), `"`))
	switch s {
	case "true", "1", "yes":
		*f = flexBool{value: true, valid: true}
	case "false", "0", "no":
		*f = flexBool{valid: true}
	}
	return nil
}

func (f flexBool) ptr() *bool {
	if !f.valid {
		return nil
	}
	v := f.value
	return &v
}

// flexTime accepts the string layouts of ParseTime or epoch seconds, as a
// number or numeric string. Values above 1e12 are taken as milliseconds.
// Anything else leaves it unset.
type flexTime struct {
	t     time.Time
	valid bool
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	*f = flexTime{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == '{' || b[0] == '[' || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if t, ok := ParseTime(s); ok {
			*f = flexTime{t: t, valid: true}
			return nil
		}
	}
	var n flexFloat
	_ = n.UnmarshalJSON([]byte(s))
	if n <= 0 {
		return nil
	}
	secs := float64(n)
	if secs > 1e12 {
		secs /= 1000
	}
	whole, frac := math.Modf(secs)
	*f = flexTime{t: time.Unix(int64(whole), int64(frac*1e9)), valid: true}
	return nil
}

func (f flexTime) get() (time.Time, bool) {
	return f.t, f.valid
}

// lenient decodes T and treats a mistyped value as absent instead of
// failing the whole event.
type lenient[T any] struct {
	value T
	valid bool
}

func (l *lenient[T]) UnmarshalJSON(b []byte) error {
	*l = lenient[T]{}
	if string(bytes.TrimSpace(b)) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	*l = lenient[T]{value: v, valid: true}
	return nil
}

type wireEvent struct {
	Type         flexString                 `json:"type"`
	Timestamp    flexTime                   `json:"timestamp"`
	Message      flexString                 `json:"message"`
	Data         json.RawMessage            `json:"data"`
	Faces        lenient[[]wireFace]        `json:"faces"`
	Recognitions lenient[[]wireRecognition] `json:"recognitions"`
	Statistics   lenient[wireStatistics]    `json:"statistics"`
	StreamWidth  flexFloat                  `json:"streamWidth"`
	StreamHeight flexFloat                  `json:"streamHeight"`
	CameraActive flexBool                   `json:"camera_active"`
}

type wireFace struct {
	X          flexFloat  `json:"x"`
	Y          flexFloat  `json:"y"`
	Width      flexFloat  `json:"width"`
	Height     flexFloat  `json:"height"`
	Confidence flexFloat  `json:"confidence"`
	Recognized flexBool   `json:"recognized"`
	PersonID   flexString `json:"personId"`
	Name       flexString `json:"name"`
	Department flexString `json:"department"`
	Photo      flexString `json:"photo"`
	Age        flexFloat  `json:"age"`
	Emotion    flexString `json:"emotion"`
	Spoof      flexBool   `json:"spoof"`
}

type wireRecognition struct {
	Confidence flexFloat             `json:"confidence"`
	Name       flexString            `json:"name"`
	Location   lenient[wireLocation] `json:"location"`
	Age        flexFloat             `json:"age"`
	Emotion    flexString            `json:"emotion"`
	Spoof      flexBool              `json:"spoof"`
}

type wireLocation struct {
	Top    flexFloat `json:"top"`
	Right  flexFloat `json:"right"`
	Bottom flexFloat `json:"bottom"`
	Left   flexFloat `json:"left"`
}

type wireStatistics struct {
	TotalFaces      flexFloat `json:"totalFaces"`
	RecognizedFaces flexFloat `json:"recognizedFaces"`
	EventsReceived  flexFloat `json:"eventsReceived"`
	Uptime          flexFloat `json:"uptime"`
}

type wireData struct {
	EmployeeID     flexString `json:"employee_id"`
	ID             flexString `json:"id"`
	Name           flexString `json:"name"`
	EmployeeName   flexString `json:"employee_name"`
	Department     flexString `json:"department"`
	Photo          flexString `json:"photo"`
	LogID          flexString `json:"log_id"`
	EventType      flexString `json:"event_type"`
	Confidence     flexFloat  `json:"confidence"`
	Timestamp      flexTime   `json:"timestamp"`
	LastPunchTime  flexTime   `json:"last_punch_time"`
	ElapsedSeconds *flexFloat `json:"elapsed_seconds"`
	Message        flexString `json:"message"`
}

// Decode parses one event payload. received is used when the payload
// carries no usable timestamp.
func Decode(payload []byte, received time.Time) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	h := header{At: received}
	if ts, ok := w.Timestamp.get(); ok {
		h.At = ts
	}

	switch Kind(w.Type) {
	case KindFaceDetected:
		faces := make([]Face, 0, len(w.Faces.value))
		for _, f := range w.Faces.value {
			faces = append(faces, f.face())
		}
		return &FaceDetected{
			header:       h,
			Faces:        faces,
			StreamWidth:  int(w.StreamWidth),
			StreamHeight: int(w.StreamHeight),
		}, nil

	case KindPersonRecognized:
		d, ok := decodeData(w.Data)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingData, w.Type)
		}
		p := Person{
			EmployeeID:   string(d.EmployeeID),
			ID:           string(d.ID),
			Name:         string(d.Name),
			EmployeeName: string(d.EmployeeName),
			Department:   string(d.Department),
			Photo:        string(d.Photo),
			LogID:        string(d.LogID),
			EventType:    string(d.EventType),
			Confidence:   float64(d.Confidence),
		}
		if ts, ok := d.Timestamp.get(); ok {
			p.At = &ts
		}
		return &PersonRecognized{header: h, Person: p}, nil

	case KindDuplicatePunch:
		d, ok := decodeData(w.Data)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingData, w.Type)
		}
		dup := &DuplicatePunch{
			header:       h,
			EmployeeID:   string(d.EmployeeID),
			EmployeeName: string(d.EmployeeName),
			Name:         string(d.Name),
			EventType:    string(d.EventType),
		}
		if ts, ok := d.LastPunchTime.get(); ok {
			dup.LastPunch = &ts
		}
		if d.ElapsedSeconds != nil {
			elapsed := max(0, float64(*d.ElapsedSeconds))
			dup.Elapsed = &elapsed
		}
		return dup, nil

	case KindStatus:
		faces := make([]Face, 0, len(w.Recognitions.value))
		for _, r := range w.Recognitions.value {
			faces = append(faces, r.face())
		}
		st := &Status{header: h, Faces: faces, CameraActive: w.CameraActive.ptr()}
		if w.Statistics.valid {
			stats := w.Statistics.value
			st.Statistics = &Statistics{
				TotalFaces:      int(stats.TotalFaces),
				RecognizedFaces: int(stats.RecognizedFaces),
				EventsReceived:  int(stats.EventsReceived),
				Uptime:          float64(stats.Uptime),
			}
		}
		return st, nil

	case KindError:
		msg := string(w.Message)
		if d, ok := decodeData(w.Data); ok && d.Message != "" {
			msg = string(d.Message)
		}
		return &Error{header: h, Message: msg}, nil

	case KindHeartbeat:
		return &Heartbeat{header: h}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}
}

// decodeData parses the optional data object. Anything that is not a JSON
// object counts as absent.
func decodeData(raw json.RawMessage) (wireData, bool) {
	var d wireData
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return d, false
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, false
	}
	return d, true
}

func (f wireFace) face() Face {
	face := Face{
		X:          float64(f.X),
		Y:          float64(f.Y),
		Width:      max(0, float64(f.Width)),
		Height:     max(0, float64(f.Height)),
		Confidence: float64(f.Confidence),
		PersonID:   string(f.PersonID),
		Name:       string(f.Name),
		Department: string(f.Department),
		Photo:      string(f.Photo),
		Age:        int(f.Age),
		Emotion:    string(f.Emotion),
	}
	if f.Recognized.valid {
		face.Recognized = f.Recognized.value
	} else {
		face.Recognized = face.Name != "" && face.Name != constants.UnknownName
	}
	face.Spoof = f.Spoof.value
	return face
}

// face maps a status recognition (top/right/bottom/left) onto a face box.
// A recognition counts as recognized when it names someone other than
// the backend's "Unknown".
func (r wireRecognition) face() Face {
	loc := r.Location.value
	face := Face{
		X:          float64(loc.Left),
		Y:          float64(loc.Top),
		Width:      max(0, float64(loc.Right-loc.Left)),
		Height:     max(0, float64(loc.Bottom-loc.Top)),
		Confidence: float64(r.Confidence),
		Recognized: r.Name != "" && string(r.Name) != constants.UnknownName,
		Name:       string(r.Name),
		Age:        int(r.Age),
		Emotion:    string(r.Emotion),
	}
	face.Spoof = r.Spoof.value
	return face
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses the timestamp formats the backend emits: RFC 3339, or
// ISO 8601 without a zone (interpreted as local time). Fractional seconds
// are optional.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
