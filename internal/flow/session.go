package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
)

// Progress bounds for a running session. Progress starts at the initial
// value, advances proportionally per answered step, and only reaches 100 on
// completion.
const (
	InitialProgress    = 5
	MaxRunningProgress = 95
	// dynamicStepProgress is the advance applied per collaborator-generated
	// step when the flow itself has no steps to size the increment by.
	dynamicStepProgress = 10
)

// StepOrSolution is a generation collaborator response: exactly one of the
// fields is populated.
type StepOrSolution struct {
	Step     *models.Step
	Solution string
}

// Generator is the external question/solution-generation collaborator the
// runner delegates to when static traversal is exhausted.
type Generator interface {
	GenerateNext(ctx context.Context, doc *models.Flow, answers []models.Answer) (StepOrSolution, error)
}

// Notifier is the external emergency-contact collaborator invoked when a
// session halts on an emergency trigger.
type Notifier interface {
	NotifyEmergency(ctx context.Context, flowTitle, actionText, lastAnswer string) error
}

// fallbackSolution closes out a session when no collaborator is available to
// generate a real one.
const fallbackSolution = "No further diagnostic steps are available. Please contact your maintenance supervisor with the recorded answers."

// FallbackStep is the fixed step substituted when the generation
// collaborator fails or returns unparseable content.
func FallbackStep() *models.Step {
	return &models.Step{
		ID:           fmt.Sprintf("step_%d", time.Now().UnixMilli()),
		Title:        "Additional information",
		Message:      "Please describe the problem in more detail.",
		Description:  "Please describe the problem in more detail.",
		Type:         models.StepTypeStep,
		QuestionType: models.QuestionTypeText,
		Options:      []models.Option{},
	}
}

// Session is the state machine for one diagnostic run over one flow. It owns
// the answer transcript and the progress value, and orchestrates the
// emergency detector, the branch resolver, and the generation collaborator.
// Sessions are safe for concurrent use; at most one Submit is in flight at a
// time and later submits are rejected, not queued.
type Session struct {
	mu       sync.Mutex
	inFlight bool

	id              string
	doc             *models.Flow
	status          models.SessionStatus
	currentStep     *models.Step
	dynamicSteps    []models.Step
	answers         []models.Answer
	progress        int
	emergencyAction string
	solution        string
	createdAt       time.Time
	updatedAt       time.Time

	generator Generator // nil when the collaborator is disabled
	notifier  Notifier  // nil when no emergency contact is configured
}

// NewSession creates an idle session over the given flow. The flow must have
// at least one step to start from.
func NewSession(id string, doc *models.Flow, generator Generator, notifier Notifier) (*Session, error) {
	if doc == nil || len(doc.Steps) == 0 {
		return nil, fmt.Errorf("%w: flow has no steps to run", models.ErrValidation)
	}
	now := time.Now().UTC()
	return &Session{
		id:        id,
		doc:       doc,
		status:    models.SessionStatusIdle,
		answers:   []models.Answer{},
		createdAt: now,
		updatedAt: now,
		generator: generator,
		notifier:  notifier,
	}, nil
}

// transitionLocked moves the machine to next after checking the edge against
// the status transition table. An illegal edge is a machine bug: it is logged
// and refused, leaving the session in its current state. Callers must hold s.mu.
func (s *Session) transitionLocked(next models.SessionStatus) {
	if !models.IsValidSessionStatus(next) || !s.status.CanTransitionTo(next) {
		slog.Error("Session.transitionLocked: illegal status transition",
			"sessionID", s.id, "from", s.status, "to", next)
		return
	}
	s.status = next
}

// Start moves the session to Running at the flow's first step.
func (s *Session) Start() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(models.SessionStatusRunning)
	s.currentStep = &s.doc.Steps[0]
	s.answers = []models.Answer{}
	s.progress = InitialProgress
	s.emergencyAction = ""
	s.solution = ""
	s.updatedAt = time.Now().UTC()
	slog.Debug("Session.Start: session running", "sessionID", s.id, "flowID", s.doc.ID, "stepID", s.currentStep.ID)
	return s.snapshotLocked()
}

// Submit records one answer for the current step and advances the machine:
// emergency check first, then static branch resolution, then delegation to
// the generation collaborator. A submit arriving while another is still in
// flight is rejected with ErrSubmitInFlight so rapid double-submission never
// records a duplicate answer.
func (s *Session) Submit(ctx context.Context, answer string) (models.SessionState, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return models.SessionState{}, models.ErrSubmitInFlight
	}
	if s.status != models.SessionStatusRunning {
		s.mu.Unlock()
		return models.SessionState{}, fmt.Errorf("%w: status is %s", models.ErrSessionClosed, s.status)
	}
	s.inFlight = true
	current := s.currentStep
	s.answers = append(s.answers, models.Answer{
		StepID:    current.ID,
		Answer:    answer,
		Timestamp: time.Now().UTC(),
	})
	s.updatedAt = time.Now().UTC()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	// Emergency triggers take precedence over any matching branch condition:
	// traversal must not advance once the detector fires.
	if action, fired := CheckEmergency(current, answer); fired {
		s.mu.Lock()
		s.transitionLocked(models.SessionStatusEmergencyHalted)
		s.emergencyAction = action
		s.updatedAt = time.Now().UTC()
		snap := s.snapshotLocked()
		s.mu.Unlock()

		if s.notifier != nil {
			if err := s.notifier.NotifyEmergency(ctx, s.doc.Title, action, answer); err != nil {
				// Notification is best-effort; the halt itself already happened.
				slog.Error("Session.Submit: emergency notification failed", "sessionID", s.id, "error", err)
			}
		}
		return snap, nil
	}

	if nextID := Resolve(s.doc, current.ID, answer); nextID != "" {
		if step := s.doc.FindStep(nextID); step != nil {
			s.mu.Lock()
			s.currentStep = step
			s.advanceProgressLocked()
			s.updatedAt = time.Now().UTC()
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
		// A dangling reference is "no further branch", not a fatal error.
		slog.Warn("Session.Submit: resolved step not found, delegating to collaborator",
			"sessionID", s.id, "flowID", s.doc.ID, "nextStepID", nextID)
	}

	return s.delegate(ctx)
}

// delegate asks the generation collaborator for a dynamically produced next
// step or a final solution. Collaborator failures are absorbed with the
// fixed fallback step; they never surface to the user.
func (s *Session) delegate(ctx context.Context) (models.SessionState, error) {
	if s.generator == nil {
		s.mu.Lock()
		s.transitionLocked(models.SessionStatusCompleted)
		s.solution = fallbackSolution
		s.progress = 100
		s.updatedAt = time.Now().UTC()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		slog.Debug("Session.delegate: no collaborator configured, completing with fallback", "sessionID", s.id)
		return snap, nil
	}

	s.mu.Lock()
	transcript := append([]models.Answer(nil), s.answers...)
	s.mu.Unlock()

	next, err := s.generator.GenerateNext(ctx, s.doc, transcript)
	if err != nil {
		slog.Error("Session.delegate: collaborator failed, substituting fallback step",
			"sessionID", s.id, "flowID", s.doc.ID, "error", err)
		next = StepOrSolution{Step: FallbackStep()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next.Step != nil {
		s.dynamicSteps = append(s.dynamicSteps, *next.Step)
		s.currentStep = &s.dynamicSteps[len(s.dynamicSteps)-1]
		s.advanceProgressLocked()
		s.updatedAt = time.Now().UTC()
		return s.snapshotLocked(), nil
	}
	s.transitionLocked(models.SessionStatusCompleted)
	s.solution = next.Solution
	s.progress = 100
	s.updatedAt = time.Now().UTC()
	return s.snapshotLocked(), nil
}

// Reset clears the transcript and progress and returns the session to
// Running at the flow's first step. A reset during an in-flight submit is
// rejected the same way a concurrent submit is.
func (s *Session) Reset() (models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return models.SessionState{}, models.ErrSubmitInFlight
	}
	s.transitionLocked(models.SessionStatusRunning)
	s.currentStep = &s.doc.Steps[0]
	s.dynamicSteps = nil
	s.answers = []models.Answer{}
	s.progress = InitialProgress
	s.emergencyAction = ""
	s.solution = ""
	s.updatedAt = time.Now().UTC()
	slog.Debug("Session.Reset: session restarted", "sessionID", s.id, "flowID", s.doc.ID)
	return s.snapshotLocked(), nil
}

// Snapshot returns a copy of the session's current state.
func (s *Session) Snapshot() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// advanceProgressLocked moves progress proportionally to the number of
// recorded answers relative to the flow's step count, capped below 100
// until completion. Callers must hold s.mu.
func (s *Session) advanceProgressLocked() {
	increment := dynamicStepProgress
	if n := len(s.doc.Steps); n > 0 {
		increment = 100 / n
	}
	s.progress += increment
	if s.progress > MaxRunningProgress {
		s.progress = MaxRunningProgress
	}
}

// snapshotLocked builds a SessionState copy. Callers must hold s.mu.
func (s *Session) snapshotLocked() models.SessionState {
	state := models.SessionState{
		ID:              s.id,
		FlowID:          s.doc.ID,
		Status:          s.status,
		Progress:        s.progress,
		Answers:         append([]models.Answer(nil), s.answers...),
		EmergencyAction: s.emergencyAction,
		Solution:        s.solution,
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.updatedAt,
	}
	if s.currentStep != nil {
		stepCopy := *s.currentStep
		state.CurrentStepID = stepCopy.ID
		state.CurrentStep = &stepCopy
	}
	return state
}
