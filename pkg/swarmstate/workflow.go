package swarmstate

import (
	"fmt"
	"time"
)

// WorkflowStatus tracks the lifecycle of a single workflow step.
type WorkflowStatus string

const (
	StepPending    WorkflowStatus = "pending"
	StepInProgress WorkflowStatus = "in_progress"
	StepCompleted  WorkflowStatus = "completed"
	StepFailed     WorkflowStatus = "failed"
)

// WorkflowStep is one tracked step of the current workflow. StartedAt is
// stamped when the step first moves to in_progress, CompletedAt when it
// reaches a terminal status.
type WorkflowStep struct {
	Name        string
	Status      WorkflowStatus
	Worker      WorkerID
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

// StartWorkflow begins a named workflow with the given step names, all
// pending. Any previous workflow and its steps are replaced.
func (s *Store) StartWorkflow(name string, steps []string) error {
	if name == "" {
		return fmt.Errorf("swarmstate: workflow name is empty")
	}
	if len(steps) == 0 {
		return fmt.Errorf("swarmstate: workflow %q has no steps", name)
	}
	tracked := make([]WorkflowStep, 0, len(steps))
	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		if step == "" {
			return fmt.Errorf("swarmstate: workflow %q: empty step name", name)
		}
		if _, dup := seen[step]; dup {
			return fmt.Errorf("swarmstate: workflow %q: duplicate step %q", name, step)
		}
		seen[step] = struct{}{}
		tracked = append(tracked, WorkflowStep{Name: step, Status: StepPending})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflow = name
	s.steps = tracked
	s.publishLocked(Event{Kind: EventWorkflowStep, Time: time.Now()})
	return nil
}

// UpdateWorkflowStep moves a step of the current workflow to a new status.
// The worker taking the step and a failure message are recorded when given;
// timestamps are stamped on the first in_progress transition and on reaching
// a terminal status.
func (s *Store) UpdateWorkflowStep(step string, status WorkflowStatus, worker WorkerID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if worker != "" {
		if _, ok := s.workers[worker]; !ok {
			return fmt.Errorf("swarmstate: update step: %w: %q", ErrUnknownWorker, worker)
		}
	}
	for i := range s.steps {
		if s.steps[i].Name != step {
			continue
		}
		now := time.Now()
		s.steps[i].Status = status
		if worker != "" {
			s.steps[i].Worker = worker
		}
		if status == StepInProgress && s.steps[i].StartedAt.IsZero() {
			s.steps[i].StartedAt = now
		}
		if status == StepCompleted || status == StepFailed {
			s.steps[i].CompletedAt = now
		}
		if errMsg != "" {
			s.steps[i].Error = errMsg
		}
		s.publishLocked(Event{Kind: EventWorkflowStep, Worker: worker, Time: now})
		return nil
	}
	return fmt.Errorf("swarmstate: %w: %q", ErrUnknownStep, step)
}

// Workflow returns the current workflow name and a copy of its steps.
func (s *Store) Workflow() (string, []WorkflowStep) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflow, append([]WorkflowStep(nil), s.steps...)
}
