// Package overlay turns the recognition event sequence into the
// time-bounded state shown over the live camera view: face boxes, the
// recognized-person card, the duplicate-punch countdown and the error
// banner. Each part expires on its own clock.
package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kozaktomas/punchclock/internal/broadcast"
	"github.com/kozaktomas/punchclock/internal/constants"
	"github.com/kozaktomas/punchclock/internal/events"
	"github.com/kozaktomas/punchclock/internal/gateway"
	"github.com/kozaktomas/punchclock/internal/schedule"
)

// Backend is the read-only directory side of the gateway.
// *gateway.Client implements it.
type Backend interface {
	EmployeeSource
	Attendance(ctx context.Context, limit int) ([]gateway.AttendanceLog, error)
	AttendanceSettings(ctx context.Context) (*gateway.AttendanceSettings, error)
}

// Config tunes the expiry windows and cadences.
type Config struct {
	SweepInterval time.Duration
	// FaceTTL clears boxes when no face-bearing event arrived for this long.
	FaceTTL time.Duration
	// EventTTL clears boxes when no event of any kind arrived for this long.
	EventTTL          time.Duration
	RecognizedTTL     time.Duration
	ErrorTTL          time.Duration
	DuplicateTick     time.Duration
	DirectoryRefresh  time.Duration
	DuplicateInterval time.Duration
	AttendanceLimit   int
	// APIRoot is the backend origin profile photo paths are resolved against.
	APIRoot string
	Logger  *slog.Logger
	Now     func() time.Time
}

func (c *Config) defaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 500 * time.Millisecond
	}
	if c.FaceTTL <= 0 {
		c.FaceTTL = 2 * time.Second
	}
	if c.EventTTL <= 0 {
		c.EventTTL = 1500 * time.Millisecond
	}
	if c.RecognizedTTL <= 0 {
		c.RecognizedTTL = 3 * time.Second
	}
	if c.ErrorTTL <= 0 {
		c.ErrorTTL = 5 * time.Second
	}
	if c.DuplicateTick <= 0 {
		c.DuplicateTick = 250 * time.Millisecond
	}
	if c.DirectoryRefresh <= 0 {
		c.DirectoryRefresh = time.Minute
	}
	if c.DuplicateInterval <= 0 {
		c.DuplicateInterval = 30 * time.Second
	}
	if c.AttendanceLimit <= 0 {
		c.AttendanceLimit = constants.AttendanceLookupLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// FaceBox is an active face with its frame-relative rectangle.
type FaceBox struct {
	events.Face
	Box   events.Box `json:"box"`
	Label string     `json:"label"`
}

// Card is the identity shown for a recognition or a duplicate punch.
type Card struct {
	EmployeeID string    `json:"employee_id"`
	Name       string    `json:"name"`
	Department string    `json:"department,omitempty"`
	Photo      string    `json:"photo,omitempty"`
	LogID      string    `json:"log_id,omitempty"`
	EventType  string    `json:"event_type,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"timestamp"`
}

// Title is "Name (id)", or whichever of the two is known.
func (c Card) Title() string {
	switch {
	case c.Name != "" && c.EmployeeID != "":
		return fmt.Sprintf("%s (%s)", c.Name, c.EmployeeID)
	case c.Name != "":
		return c.Name
	case c.EmployeeID != "":
		return c.EmployeeID
	default:
		return constants.UnknownName
	}
}

// Duplicate is the duplicate-punch countdown.
type Duplicate struct {
	Card
	// Remaining is the cooldown left, in seconds. It never increases and
	// never goes below zero.
	Remaining float64 `json:"remaining"`
}

// RemainingSeconds is Remaining rounded up for display.
func (d Duplicate) RemainingSeconds() int {
	return int(math.Ceil(d.Remaining))
}

// Stats are the client-side recognition counters.
type Stats struct {
	EventsReceived  int       `json:"events_received"`
	FacesDetected   int       `json:"faces_detected"`
	FacesRecognized int       `json:"faces_recognized"`
	LastEvent       time.Time `json:"last_event"`
	Uptime          float64   `json:"uptime"`
}

// State is a snapshot of the overlay.
type State struct {
	Faces      []FaceBox  `json:"faces"`
	Recognized *Card      `json:"recognized,omitempty"`
	Duplicate  *Duplicate `json:"duplicate,omitempty"`
	Error      string     `json:"error,omitempty"`
	Stats      Stats      `json:"stats"`
}

type duplicate struct {
	card       Card
	lastPunch  *time.Time
	elapsed    float64
	receivedAt time.Time
	remaining  float64
}

// Manager owns the overlay state. All methods are safe for concurrent use.
type Manager struct {
	backend   Backend
	cfg       Config
	logger    *slog.Logger
	directory *Directory

	mu          sync.Mutex
	faces       []FaceBox
	lastFacesAt time.Time
	lastEventAt time.Time
	recognized  *Card
	recognizeID uint64
	dup         *duplicate
	errMsg      string
	stats       Stats
	interval    time.Duration
	lookupKey   string
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sweepLoop     *schedule.Loop
	duplicateLoop *schedule.Loop
	refreshLoop   *schedule.Loop
	recognizedTTL schedule.Timer
	errorTTL      schedule.Timer

	updates broadcast.Broadcaster[State]
}

// New creates a stopped manager.
func New(backend Backend, cfg Config) *Manager {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		backend:   backend,
		cfg:       cfg,
		logger:    cfg.Logger,
		directory: NewDirectory(backend, cfg.Logger),
		interval:  cfg.DuplicateInterval,
		ctx:       ctx,
		cancel:    cancel,
	}
	m.sweepLoop = schedule.NewLoop("overlay-sweep", cfg.SweepInterval, func(context.Context) { m.Sweep() }, cfg.Logger)
	m.duplicateLoop = schedule.NewLoop("overlay-duplicate", cfg.DuplicateTick, func(context.Context) { m.TickDuplicate() }, cfg.Logger)
	m.refreshLoop = schedule.NewLoop("overlay-directory", cfg.DirectoryRefresh, m.refresh, cfg.Logger)
	return m
}

// Directory returns the employee cache used to resolve identities.
func (m *Manager) Directory() *Directory {
	return m.directory
}

// Start loads the attendance settings and begins the sweep, countdown and
// directory refresh loops.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.loadSettings(m.ctx)
	}()
	m.refreshLoop.Start(m.ctx, true)
	m.sweepLoop.Start(m.ctx, false)
	m.duplicateLoop.Start(m.ctx, false)
}

// Close stops every loop and timer and drops in-flight lookups. Safe to
// call multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.sweepLoop.Stop()
	m.duplicateLoop.Stop()
	m.refreshLoop.Stop()
	m.recognizedTTL.Stop()
	m.errorTTL.Stop()
	m.wg.Wait()
	m.updates.Close()
}

func (m *Manager) refresh(ctx context.Context) {
	if err := m.directory.Refresh(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("overlay: directory refresh failed", "error", err)
	}
}

func (m *Manager) loadSettings(ctx context.Context) {
	settings, err := m.backend.AttendanceSettings(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("overlay: attendance settings unavailable", "error", err, "interval", m.cfg.DuplicateInterval)
		}
		return
	}
	if d := settings.DuplicateInterval(); d > 0 {
		m.SetDuplicateInterval(d)
	}
}

// SetDuplicateInterval changes the duplicate-punch cooldown.
func (m *Manager) SetDuplicateInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
	m.logger.Info("overlay: duplicate punch interval set", "interval", d)
}

// DuplicateInterval returns the current cooldown.
func (m *Manager) DuplicateInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Handle applies one recognition event.
func (m *Manager) Handle(ev events.Event) {
	now := m.cfg.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.lastEventAt = now
	m.stats.EventsReceived++
	m.stats.LastEvent = now

	var enrich string
	switch e := ev.(type) {
	case *events.FaceDetected:
		m.setFacesLocked(e.Faces, e.StreamWidth, e.StreamHeight, now)
		m.stats.FacesDetected += len(e.Faces)
	case *events.Status:
		if e.Statistics != nil {
			m.stats.Uptime = e.Statistics.Uptime
		}
		m.setFacesLocked(e.Faces, 0, 0, now)
	case *events.PersonRecognized:
		enrich = m.recognizeLocked(e, now)
	case *events.DuplicatePunch:
		m.duplicateLocked(e, now)
	case *events.Error:
		m.errMsg = e.Message
		if m.errMsg == "" {
			m.errMsg = "Recognition error"
		}
		m.errorTTL.Reset(m.cfg.ErrorTTL, m.DismissError)
	case *events.Heartbeat:
	}
	if enrich != "" {
		// Added under mu so Close cannot start waiting in between.
		m.wg.Add(1)
	}
	m.mu.Unlock()

	if enrich != "" {
		go func() {
			defer m.wg.Done()
			m.enrich(m.ctx, enrich)
		}()
	}
	m.publish()
}

func (m *Manager) setFacesLocked(faces []events.Face, w, h int, now time.Time) {
	m.lastFacesAt = now
	if len(faces) == 0 {
		m.faces = nil
		return
	}
	boxes := make([]FaceBox, 0, len(faces))
	for _, f := range faces {
		boxes = append(boxes, FaceBox{Face: f, Box: f.Normalize(w, h), Label: f.Label()})
	}
	m.faces = boxes
}

// recognizeLocked populates the recognized card and restarts its expiry.
// It returns the key to enrich from the attendance log, if any.
func (m *Manager) recognizeLocked(e *events.PersonRecognized, now time.Time) string {
	p := e.Person
	entry, _ := m.directory.Lookup(p.Key())

	card := Card{
		EmployeeID: firstNonEmpty(p.EmployeeID, string(entry.ID), p.ID, p.Name),
		Name:       firstNonEmpty(p.EmployeeName, entry.Name, p.Name, constants.UnknownName),
		Department: firstNonEmpty(p.Department, entry.Department),
		LogID:      p.LogID,
		EventType:  p.EventType,
		Confidence: p.Confidence,
		At:         e.Time(),
	}
	card.Photo = ResolvePhoto(m.cfg.APIRoot, firstNonEmpty(p.Photo, entry.Photo), card.EmployeeID)
	if p.At != nil {
		card.At = *p.At
	}

	m.recognized = &card
	m.recognizeID++
	id := m.recognizeID
	m.recognizedTTL.Reset(m.cfg.RecognizedTTL, func() { m.expireRecognized(id) })
	m.dup = nil
	m.stats.FacesRecognized++
	m.logger.Info("overlay: person recognized", "employee_id", card.EmployeeID, "name", card.Name)

	key := p.Key()
	if card.LogID != "" || key == "" || key == m.lookupKey {
		return ""
	}
	m.lookupKey = key
	return key
}

func (m *Manager) expireRecognized(id uint64) {
	m.mu.Lock()
	expired := m.recognizeID == id && m.recognized != nil
	if expired {
		m.recognized = nil
	}
	m.mu.Unlock()
	if expired {
		m.publish()
	}
}

// enrich fills the log id, time and event type of the recognized card from
// the newest matching attendance log.
func (m *Manager) enrich(ctx context.Context, key string) {
	logs, err := m.backend.Attendance(ctx, m.cfg.AttendanceLimit)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("overlay: attendance lookup failed", "key", key, "error", err)
		}
		return
	}

	var match *gateway.AttendanceLog
	for i := range logs {
		if string(logs[i].EmployeeID) == key || logs[i].EmployeeName == key {
			match = &logs[i]
			break
		}
	}
	if match == nil {
		return
	}

	m.mu.Lock()
	card := m.recognized
	if card == nil || card.LogID != "" || m.lookupKey != key {
		m.mu.Unlock()
		return
	}
	updated := *card
	updated.LogID = string(match.ID)
	if at, ok := events.ParseTime(match.Timestamp); ok {
		updated.At = at
	}
	updated.EventType = firstNonEmpty(match.EventType, updated.EventType)
	updated.EmployeeID = firstNonEmpty(string(match.EmployeeID), updated.EmployeeID)
	updated.Name = firstNonEmpty(match.EmployeeName, updated.Name)
	m.recognized = &updated
	m.mu.Unlock()

	m.logger.Debug("overlay: recognition enriched", "key", key, "log_id", updated.LogID)
	m.publish()
}

func (m *Manager) duplicateLocked(e *events.DuplicatePunch, now time.Time) {
	key := e.Key()
	entry, _ := m.directory.Lookup(key)

	card := Card{
		EmployeeID: firstNonEmpty(e.EmployeeID, string(entry.ID), key),
		Name:       firstNonEmpty(e.EmployeeName, entry.Name, key, "Employee"),
		Department: entry.Department,
		EventType:  e.EventType,
		At:         e.Time(),
	}
	card.Photo = ResolvePhoto(m.cfg.APIRoot, entry.Photo, card.EmployeeID)

	d := &duplicate{
		card:       card,
		lastPunch:  e.LastPunch,
		receivedAt: now,
		remaining:  math.Inf(1),
	}
	if e.Elapsed != nil {
		d.elapsed = *e.Elapsed
	}
	m.dup = d
	m.tickDuplicateLocked(now)
	m.logger.Info("overlay: duplicate punch", "employee_id", card.EmployeeID, "remaining", d.remaining)
}

// tickDuplicateLocked recomputes the countdown and clears it at zero. It
// reports whether the state changed.
func (m *Manager) tickDuplicateLocked(now time.Time) bool {
	d := m.dup
	if d == nil {
		return false
	}

	var elapsed float64
	if d.lastPunch != nil {
		elapsed = max(0, now.Sub(*d.lastPunch).Seconds())
	} else {
		elapsed = d.elapsed + max(0, now.Sub(d.receivedAt).Seconds())
	}
	remaining := max(0, m.interval.Seconds()-elapsed)
	if remaining < d.remaining {
		d.remaining = remaining
	}
	if d.remaining <= 0 {
		m.dup = nil
	}
	return true
}

// TickDuplicate advances the duplicate-punch countdown.
func (m *Manager) TickDuplicate() {
	m.mu.Lock()
	changed := m.tickDuplicateLocked(m.cfg.Now())
	m.mu.Unlock()
	if changed {
		m.publish()
	}
}

// Sweep clears face boxes that outlived the face or event window. It runs
// regardless of the stream connection state.
func (m *Manager) Sweep() {
	now := m.cfg.Now()
	m.mu.Lock()
	stale := len(m.faces) > 0 &&
		(now.Sub(m.lastFacesAt) > m.cfg.FaceTTL || now.Sub(m.lastEventAt) > m.cfg.EventTTL)
	if stale {
		m.faces = nil
	}
	m.mu.Unlock()

	if stale {
		m.logger.Debug("overlay: stale faces cleared")
		m.publish()
	}
}

// ResetFaces clears the face boxes, used when the camera or connection
// status changes.
func (m *Manager) ResetFaces() {
	m.mu.Lock()
	m.faces = nil
	m.lastFacesAt = time.Time{}
	m.mu.Unlock()
	m.publish()
}

// DismissError hides the error banner.
func (m *Manager) DismissError() {
	m.mu.Lock()
	cleared := m.errMsg != ""
	m.errMsg = ""
	m.mu.Unlock()
	if cleared {
		m.errorTTL.Stop()
		m.publish()
	}
}

// ShowError surfaces a client-side error, such as a failed camera start,
// with the same expiry as recognition errors.
func (m *Manager) ShowError(msg string) {
	m.mu.Lock()
	m.errMsg = msg
	m.errorTTL.Reset(m.cfg.ErrorTTL, m.DismissError)
	m.mu.Unlock()
	m.publish()
}

// State returns the current overlay snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := State{
		Faces: append([]FaceBox(nil), m.faces...),
		Error: m.errMsg,
		Stats: m.stats,
	}
	if m.recognized != nil {
		c := *m.recognized
		s.Recognized = &c
	}
	if m.dup != nil {
		s.Duplicate = &Duplicate{Card: m.dup.card, Remaining: m.dup.remaining}
	}
	return s
}

// Subscribe returns a channel of overlay snapshots. The returned function
// unsubscribes.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := m.updates.AddListener()
	return ch, func() { m.updates.RemoveListener(ch) }
}

func (m *Manager) publish() {
	m.updates.Send(m.State())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
