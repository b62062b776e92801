package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// LoginFlowStep represents a single step in a login flow
type LoginFlowStep interface {
	// Name returns the unique name of this step
	Name() string

	// Order returns the execution order (lower numbers execute first)
	Order() int

	// Execute performs the step's page interactions
	Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error)

	// ShouldSkip determines if this step should be skipped based on current context
	ShouldSkip(ctx context.Context, flowContext *FlowContext) bool
}

// FlowContext carries state between login flow steps
type FlowContext struct {
	Page        browser.Page
	Profile     *Profile
	Options     Options
	Credentials platform.Credentials
	// Code is the verification code, set for code submission flows.
	Code string

	State   State
	Outcome Outcome
}

// StepResult represents the result of executing a login flow step
type StepResult struct {
	// Next is the state the flow moves to. Zero keeps the current state.
	Next State

	// Stop ends the flow after this step
	Stop bool

	// Error ends the flow with a failure
	Error *Error
}

// StepRegistry manages and orders login flow steps
type StepRegistry struct {
	steps []LoginFlowStep
}

// NewStepRegistry creates a new step registry
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps: make([]LoginFlowStep, 0),
	}
}

// AddStep adds a step to the registry
func (r *StepRegistry) AddStep(step LoginFlowStep) *StepRegistry {
	r.steps = append(r.steps, step)
	return r
}

// GetOrderedSteps returns steps sorted by their order
func (r *StepRegistry) GetOrderedSteps() []LoginFlowStep {
	orderedSteps := make([]LoginFlowStep, len(r.steps))
	copy(orderedSteps, r.steps)

	sort.SliceStable(orderedSteps, func(i, j int) bool {
		return orderedSteps[i].Order() < orderedSteps[j].Order()
	})

	return orderedSteps
}

// FlowExecutor orchestrates the execution of login flow steps
type FlowExecutor struct {
	registry *StepRegistry
}

// NewFlowExecutor creates a new flow executor
func NewFlowExecutor(registry *StepRegistry) *FlowExecutor {
	return &FlowExecutor{
		registry: registry,
	}
}

// Execute runs the steps in order until one stops the flow or fails. A panic
// inside a step ends the flow as an unexpected page state.
func (e *FlowExecutor) Execute(ctx context.Context, flowContext *FlowContext) (outcome Outcome) {
	current := "none"
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Login flow step panicked", "step", current, "panic", r)
			outcome = e.fail(flowContext, stateUnchanged,
				newError(platform.ReasonUnexpectedPageState, fmt.Sprintf("step %s panicked", current), fmt.Errorf("%v", r)))
		}
	}()

	for _, step := range e.registry.GetOrderedSteps() {
		if step.ShouldSkip(ctx, flowContext) {
			continue
		}
		current = step.Name()

		stepResult, err := step.Execute(ctx, flowContext)
		if err != nil {
			return e.fail(flowContext, stateUnchanged, classify(ctx, step.Name(), err))
		}
		if stepResult == nil {
			continue
		}

		if stepResult.Error != nil {
			return e.fail(flowContext, stepResult.Next, stepResult.Error)
		}

		if stepResult.Next != stateUnchanged && stepResult.Next != flowContext.State {
			slog.Debug("Login flow transition",
				"platform", flowContext.Profile.Platform,
				"step", step.Name(),
				"from", flowContext.State,
				"to", stepResult.Next)
			flowContext.State = stepResult.Next
		}

		if stepResult.Stop {
			break
		}
	}

	flowContext.Outcome.State = flowContext.State
	return flowContext.Outcome
}

func (e *FlowExecutor) fail(flowContext *FlowContext, next State, flowErr *Error) Outcome {
	state := next
	if state == stateUnchanged {
		state = StateLoginFailed
	}
	slog.Info("Login flow failed",
		"platform", flowContext.Profile.Platform,
		"from", flowContext.State,
		"to", state,
		"reason", flowErr.Reason,
		"error", flowErr)
	flowContext.State = state
	return Outcome{State: state, Err: flowErr}
}

// classify maps an unclassified step error onto the failure taxonomy.
func classify(ctx context.Context, step string, err error) *Error {
	var flowErr *Error
	switch {
	case errors.As(err, &flowErr):
		return flowErr
	case errors.Is(err, browser.ErrClosed):
		return newError(platform.ReasonUnexpectedPageState, "browser session closed during "+step, err)
	case errors.Is(err, browser.ErrLaunch):
		return newError(platform.ReasonEnvironmentError, "browser could not be started", err)
	case ctx.Err() != nil:
		return newError(platform.ReasonUnexpectedPageState, step+" aborted", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(platform.ReasonUnexpectedPageState, step+" timed out", err)
	case errors.Is(err, browser.ErrNavigation):
		return newError(platform.ReasonNetworkError, "login page could not be loaded", err)
	}
	return newError(platform.ReasonUnexpectedPageState, fmt.Sprintf("step %s failed", step), err)
}

// FlowBuilder provides a fluent interface for building login flows
type FlowBuilder struct {
	registry *StepRegistry
}

// NewFlowBuilder creates a new flow builder
func NewFlowBuilder() *FlowBuilder {
	return &FlowBuilder{
		registry: NewStepRegistry(),
	}
}

// AddStep adds a step to the flow
func (b *FlowBuilder) AddStep(step LoginFlowStep) *FlowBuilder {
	b.registry.AddStep(step)
	return b
}

// Build creates a flow executor with the configured steps
func (b *FlowBuilder) Build() *FlowExecutor {
	return NewFlowExecutor(b.registry)
}

// Predefined step orders
const (
	OrderNavigate           = 100
	OrderSignIn             = 200
	OrderChallengeProbe     = 300
	OrderIdentifier         = 400
	OrderIdentifierContinue = 500
	OrderSecret             = 600
	OrderSubmit             = 700
	OrderAwaitOutcome       = 800
	OrderCodeEntry          = 900
	OrderCodeSubmit         = 1000
	OrderAwaitVerification  = 1100
	OrderExtractSession     = 1200
)
