package services

import (
	"errors"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/definitions"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrRunNotFound      = errors.New("workflow run not found")
	ErrRunStepNotFound  = errors.New("workflow run step not found")
	ErrTaskNotFound     = errors.New("agent task not found")
	ErrTaskSettled      = errors.New("agent task already settled")
	// ErrRunTerminal is returned when an operation needs a run that is still active.
	ErrRunTerminal = errors.New("workflow run is terminal")
	// ErrStepConflict is returned when a run-step is not in the state a transition expects,
	// including when a concurrent caller won the transition.
	ErrStepConflict      = errors.New("workflow run step state conflict")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidDefinition = definitions.ErrInvalidDefinition
)
