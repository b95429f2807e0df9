package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"phantomrecorder/backend/internal/models"
	"phantomrecorder/backend/internal/recorder"
	"phantomrecorder/backend/pkg/chrome"
)

var (
	ErrSessionNotFound = errors.New("recording session not found")
	ErrSessionExists   = errors.New("recording session already exists")
	ErrNotRecording    = errors.New("no recording in progress")
	ErrTooManySessions = errors.New("too many recording sessions")
)

// Step is one recorded user action.
type Step struct {
	Seq       int           `json:"seq"`
	Kind      recorder.Kind `json:"event_type"`
	Selector  string        `json:"selector"`
	Value     *string       `json:"value,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// ScriptLines renders ev as automation script lines. It returns "" for
// events that produce no step: unknown kinds and type events without a
// value.
func ScriptLines(ev recorder.RecordedEvent) string {
	sel := strconv.Quote(ev.Selector)
	switch ev.Kind {
	case recorder.KindClick:
		return fmt.Sprintf("browser.wait_for_selector(%s);\nbrowser.click(%s);\n", sel, sel)
	case recorder.KindType:
		if ev.Value == nil {
			return ""
		}
		return fmt.Sprintf("browser.wait_for_selector(%s);\nbrowser.type(%s, %s);\n", sel, sel, strconv.Quote(*ev.Value))
	}
	return ""
}

type StartOptions struct {
	URL      string
	Viewport chrome.Viewport
}

// Status is a point-in-time copy of a session.
type Status struct {
	SessionID   string     `json:"session_id"`
	URL         string     `json:"url"`
	IsRecording bool       `json:"is_recording"`
	Steps       []Step     `json:"steps"`
	Script      string     `json:"script"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
}

// Session collects the steps of one recording. It is the recorder's
// Forwarder: a nil return acknowledges the event.
type Session struct {
	ID  string
	URL string

	hub   *Hub
	store Store

	mu        sync.RWMutex
	recording bool
	steps     []Step
	script    strings.Builder
	startedAt time.Time
	stoppedAt time.Time
	detach    func()
}

var _ recorder.Forwarder = (*Session)(nil)

func (s *Session) Forward(ctx context.Context, ev recorder.RecordedEvent) error {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return nil
	}
	lines := ScriptLines(ev)
	if lines == "" {
		s.mu.Unlock()
		return nil
	}
	step := Step{
		Seq:       len(s.steps) + 1,
		Kind:      ev.Kind,
		Selector:  ev.Selector,
		Value:     ev.Value,
		Timestamp: time.Now().UnixMilli(),
	}
	s.steps = append(s.steps, step)
	s.script.WriteString(lines)
	// Published under the lock so subscribers see transcripts in order.
	s.hub.Publish(TopicRecorderEvent, s.ID, step)
	s.hub.Publish(TopicScriptUpdate, s.ID, s.script.String())
	s.mu.Unlock()

	if s.store != nil {
		err := s.store.AppendStep(ctx, &models.RecordedStep{
			SessionID:  s.ID,
			Seq:        step.Seq,
			EventType:  string(step.Kind),
			Selector:   step.Selector,
			Value:      step.Value,
			RecordedAt: time.UnixMilli(step.Timestamp),
		})
		if err != nil {
			log.Printf("Recording %s: %v", s.ID, err)
		}
	}
	return nil
}

// reportFailure is the recorder error handler of the session.
func (s *Session) reportFailure(f *recorder.Failure) {
	log.Printf("⚠️ Recording %s: %v", s.ID, f)
	s.hub.Publish(TopicRecorderError, s.ID, map[string]interface{}{
		"stage":    f.Stage,
		"event":    f.Event,
		"error":    f.Err.Error(),
		"selector": f.Event.Selector,
	})
}

func (s *Session) logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	log.Printf("Recording %s: %s", s.ID, line)
	s.hub.Publish(TopicLogOutput, s.ID, line)
}

func (s *Session) IsRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording
}

func (s *Session) Script() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.script.String()
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		SessionID:   s.ID,
		URL:         s.URL,
		IsRecording: s.recording,
		Steps:       append(make([]Step, 0, len(s.steps)), s.steps...),
		Script:      s.script.String(),
		StartedAt:   s.startedAt,
	}
	if !s.stoppedAt.IsZero() {
		stopped := s.stoppedAt
		st.StoppedAt = &stopped
	}
	return st
}

// stop ends the recording and detaches the browser. It reports false when
// the session was not recording.
func (s *Session) stop(now time.Time) bool {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return false
	}
	s.recording = false
	s.stoppedAt = now
	detach := s.detach
	s.detach = nil
	script := s.script.String()
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	if s.store != nil {
		if err := s.store.FinishSession(context.Background(), s.ID, script, now); err != nil {
			log.Printf("Recording %s: %v", s.ID, err)
		}
	}
	s.logf("Recording stopped")
	return true
}

func (s *Session) stoppedBefore(t time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.recording && !s.stoppedAt.IsZero() && s.stoppedAt.Before(t)
}

// Launcher attaches a browser to a freshly started session and returns the
// function that detaches it again.
type Launcher func(ctx context.Context, s *Session, opts StartOptions) (detach func(), err error)

// Manager owns every recording session of the process.
type Manager struct {
	hub         *Hub
	store       Store
	launch      Launcher
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns a manager. store may be nil; maxSessions bounds the
// number of sessions recording at the same time.
func NewManager(hub *Hub, store Store, launch Launcher, maxSessions int) *Manager {
	return &Manager{
		hub:         hub,
		store:       store,
		launch:      launch,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

func (m *Manager) Hub() *Hub { return m.hub }

// Start creates a session and attaches a browser to it. The session is
// already recording when the page loads, so nothing before the first
// install is missed on the backend side.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	return m.StartWithID(ctx, uuid.New().String(), opts)
}

func (m *Manager) StartWithID(ctx context.Context, id string, opts StartOptions) (*Session, error) {
	s := &Session{
		ID:        id,
		URL:       opts.URL,
		hub:       m.hub,
		store:     m.store,
		recording: true,
		startedAt: time.Now(),
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if m.maxSessions > 0 && m.recordingCount() >= m.maxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, m.maxSessions)
	}
	m.sessions[id] = s
	m.mu.Unlock()

	if m.store != nil {
		dev, _ := opts.Viewport.Resolve()
		err := m.store.CreateSession(ctx, &models.RecordingSession{
			SessionID: id,
			URL:       opts.URL,
			Device:    dev.Name,
			Width:     int(dev.Width),
			Height:    int(dev.Height),
			Status:    models.SessionRecording,
			StartedAt: s.startedAt,
		})
		if err != nil {
			log.Printf("Recording %s: %v", id, err)
		}
	}

	if m.launch != nil {
		detach, err := m.launch(ctx, s, opts)
		if err != nil {
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
			s.mu.Lock()
			s.recording = false
			s.mu.Unlock()
			if m.store != nil {
				if serr := m.store.AbandonSession(context.Background(), id); serr != nil {
					log.Printf("Recording %s: %v", id, serr)
				}
			}
			return nil, fmt.Errorf("failed to start recording: %w", err)
		}
		s.mu.Lock()
		s.detach = detach
		s.mu.Unlock()
	}

	s.logf("Recording started on %s", opts.URL)
	return s, nil
}

func (m *Manager) recordingCount() int {
	n := 0
	for _, s := range m.sessions {
		if s.IsRecording() {
			n++
		}
	}
	return n
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Stop ends a recording. The session is kept until Cleanup or the reaper
// removes it, so its transcript can still be fetched.
func (m *Manager) Stop(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if !s.stop(time.Now()) {
		return fmt.Errorf("%w: %s", ErrNotRecording, id)
	}
	return nil
}

func (m *Manager) Status(id string) (Status, error) {
	s, err := m.Get(id)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// Record handles a recorder_event command for session id.
func (m *Manager) Record(ctx context.Context, id string, ev recorder.RecordedEvent) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Forward(ctx, ev)
}

// Cleanup stops the session if needed and forgets it.
func (m *Manager) Cleanup(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.stop(time.Now())
	return nil
}

// Reap forgets sessions stopped more than ttl before now and returns how
// many were removed.
func (m *Manager) Reap(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.stoppedBefore(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// List returns the ids of all known sessions in a stable order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops every session that is still recording.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, s := range sessions {
		s.stop(now)
	}
}
