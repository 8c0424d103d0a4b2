// Package workflow defines the workflow state machine: the closed set of
// states, the transitions between them, per-transition dispatch attributes,
// and the task-selection rules the worker loop applies each tick.
package workflow

// State is a workflow state name.
type State string

// Workflow states.
const (
	StateThemesProposed         State = "themes-proposed"
	StateThemesPrioritized      State = "themes-prioritized"
	StateInitiativesPrioritized State = "initiatives-prioritized"
	StateFeaturesProposed       State = "features-proposed"
	StateFeaturesPrioritized    State = "features-prioritized"
	StateStoriesPrioritized     State = "stories-prioritized"
	StateTasksPrepared          State = "tasks-prepared"
	StateTaskInProgress         State = "task-in-progress"
	StateLintCompleted          State = "lint-completed"
	StateTypecheckCompleted     State = "typecheck-completed"
	StateUnitTestsCompleted     State = "unit-tests-completed"
	StateE2ETestsCompleted      State = "e2e-tests-completed"
	StateCoverageCompleted      State = "coverage-completed"
	StateTestsCompleted         State = "tests-completed"
	StateNewFeatureProposed     State = "new-feature-proposed"
)

// Transition is a workflow transition name.
type Transition string

// Workflow transitions.
const (
	TransitionPrioritizeThemes      Transition = "prioritize-themes"
	TransitionRefineIntoInitiatives Transition = "refine-into-initiatives"
	TransitionRefineIntoFeatures    Transition = "refine-into-features"
	TransitionPrioritizeFeatures    Transition = "prioritize-features"
	TransitionRefineIntoStories     Transition = "refine-into-stories"
	TransitionRefineIntoTasks       Transition = "refine-into-tasks"
	TransitionBeginImplementation   Transition = "begin-implementation"
	TransitionRunLint               Transition = "run-lint"
	TransitionRunTypecheck          Transition = "run-typecheck"
	TransitionRunUnitTests          Transition = "run-unit-tests"
	TransitionRunE2ETests           Transition = "run-e2e-tests"
	TransitionEnsureCoverage        Transition = "ensure-coverage"
	TransitionLintFailed            Transition = "lint-failed"
	TransitionTypecheckFailed       Transition = "typecheck-failed"
	TransitionUnitTestsFailed       Transition = "unit-tests-failed"
	TransitionE2ETestsFailed        Transition = "e2e-tests-failed"
	TransitionCoverageFailed        Transition = "coverage-failed"
	TransitionTestsPassing          Transition = "tests-passing"
	TransitionPickUpNextTask        Transition = "pick-up-next-task"
	TransitionCloseInvalidTask      Transition = "close-invalid-task"
	TransitionReviewTaskValidity    Transition = "review-task-validity"
	TransitionReviewStoryCoverage   Transition = "review-story-coverage"
	TransitionNeedMoreTasks         Transition = "need-more-tasks"
	TransitionResearch              Transition = "research"
	TransitionDoUXResearch          Transition = "do-ux-research"
)

// TargetType is the task type a transition operates on.
type TargetType string

// Target types.
const (
	TargetTheme          TargetType = "theme"
	TargetInitiative     TargetType = "initiative"
	TargetFeature        TargetType = "feature"
	TargetStory          TargetType = "story"
	TargetImplementation TargetType = "implementation"
	TargetTesting        TargetType = "testing"
)

// Profile names referenced by the graph. The profile registry owns the
// full profile records; the graph only names the executing profile.
const (
	ProfilePrioritizationLead = "prioritization-lead"
	ProfileProductManager     = "product-manager"
	ProfileSeniorDeveloper    = "senior-developer"
	ProfileUXResearcher       = "ux-researcher"
	ProfileQAEngineer         = "qa-engineer"
	ProfileE2EInvestigator    = "qa-e2e-failure-investigation-specialist"
)

// StateSpec describes one workflow state.
type StateSpec struct {
	// DefaultProfile executes transitions from this state unless the
	// transition carries its own profile override.
	DefaultProfile string

	// Transitions maps each transition defined from this state to its
	// target state.
	Transitions map[Transition]State

	// TargetType is the default task type transitions from this state
	// operate on.
	TargetType TargetType

	// PromptHint is appended to agent prompts when the executing profile
	// matches DefaultProfile.
	PromptHint string

	// Decider is the transition the default decider chooses when no
	// guard redirects it.
	Decider Transition
}

// TransitionSpec carries the per-transition attributes consumed by the
// dispatcher and the prompt builder.
type TransitionSpec struct {
	TargetType         TargetType // overrides the state default when set
	Profile            string     // overrides the state default when set
	AllowedWithoutTask bool
	NeedsTaskSnapshot  bool
	DescriptionNeeded  bool
	Fallbacks          []Transition
}

// Graph is the immutable workflow table built once at process start.
type Graph struct {
	states      map[State]StateSpec
	transitions map[Transition]TransitionSpec
}

// NewGraph builds the workflow graph.
func NewGraph() *Graph {
	return &Graph{
		states:      buildStates(),
		transitions: buildTransitions(),
	}
}

func buildStates() map[State]StateSpec {
	return map[State]StateSpec{
		StateThemesProposed: {
			DefaultProfile: ProfilePrioritizationLead,
			TargetType:     TargetTheme,
			Decider:        TransitionPrioritizeThemes,
			PromptHint:     "Rank the proposed themes by strategic value before anything is refined.",
			Transitions: map[Transition]State{
				TransitionPrioritizeThemes: StateThemesPrioritized,
			},
		},
		StateThemesPrioritized: {
			DefaultProfile: ProfileProductManager,
			TargetType:     TargetTheme,
			Decider:        TransitionRefineIntoInitiatives,
			PromptHint:     "Break the highest-priority theme into concrete initiatives.",
			Transitions: map[Transition]State{
				TransitionRefineIntoInitiatives: StateInitiativesPrioritized,
				TransitionResearch:              StateThemesPrioritized,
			},
		},
		StateInitiativesPrioritized: {
			DefaultProfile: ProfileProductManager,
			TargetType:     TargetInitiative,
			Decider:        TransitionRefineIntoFeatures,
			PromptHint:     "Turn the top initiative into user-facing features.",
			Transitions: map[Transition]State{
				TransitionRefineIntoFeatures: StateFeaturesProposed,
				TransitionResearch:           StateInitiativesPrioritized,
			},
		},
		StateFeaturesProposed: {
			DefaultProfile: ProfilePrioritizationLead,
			TargetType:     TargetFeature,
			Decider:        TransitionPrioritizeFeatures,
			PromptHint:     "Order the proposed features; do not create new ones here.",
			Transitions: map[Transition]State{
				TransitionPrioritizeFeatures: StateFeaturesPrioritized,
				TransitionDoUXResearch:       StateFeaturesProposed,
			},
		},
		StateFeaturesPrioritized: {
			DefaultProfile: ProfileProductManager,
			TargetType:     TargetFeature,
			Decider:        TransitionRefineIntoStories,
			PromptHint:     "Write stories for the highest-priority feature.",
			Transitions: map[Transition]State{
				TransitionRefineIntoStories:   StateStoriesPrioritized,
				TransitionReviewStoryCoverage: StateFeaturesPrioritized,
			},
		},
		StateStoriesPrioritized: {
			DefaultProfile: ProfileSeniorDeveloper,
			TargetType:     TargetStory,
			Decider:        TransitionRefineIntoTasks,
			PromptHint:     "Refine the top story into small implementation tasks and wire dependencies.",
			Transitions: map[Transition]State{
				TransitionRefineIntoTasks:     StateTasksPrepared,
				TransitionReviewStoryCoverage: StateStoriesPrioritized,
				TransitionNeedMoreTasks:       StateStoriesPrioritized,
			},
		},
		StateTasksPrepared: {
			DefaultProfile: ProfileSeniorDeveloper,
			TargetType:     TargetImplementation,
			Decider:        TransitionBeginImplementation,
			PromptHint:     "Pick the most valuable runnable task and start implementing it.",
			Transitions: map[Transition]State{
				TransitionBeginImplementation: StateTaskInProgress,
				TransitionNeedMoreTasks:       StateStoriesPrioritized,
				TransitionCloseInvalidTask:    StateTasksPrepared,
				TransitionReviewTaskValidity:  StateTasksPrepared,
			},
		},
		StateTaskInProgress: {
			DefaultProfile: ProfileSeniorDeveloper,
			TargetType:     TargetImplementation,
			Decider:        TransitionRunLint,
			Transitions: map[Transition]State{
				TransitionRunLint:    StateLintCompleted,
				TransitionLintFailed: StateTaskInProgress,
			},
		},
		StateLintCompleted: {
			DefaultProfile: ProfileSeniorDeveloper,
			TargetType:     TargetImplementation,
			Decider:        TransitionRunTypecheck,
			Transitions: map[Transition]State{
				TransitionRunTypecheck:    StateTypecheckCompleted,
				TransitionTypecheckFailed: StateLintCompleted,
			},
		},
		StateTypecheckCompleted: {
			DefaultProfile: ProfileSeniorDeveloper,
			TargetType:     TargetImplementation,
			Decider:        TransitionRunUnitTests,
			Transitions: map[Transition]State{
				TransitionRunUnitTests:    StateUnitTestsCompleted,
				TransitionUnitTestsFailed: StateTypecheckCompleted,
			},
		},
		StateUnitTestsCompleted: {
			DefaultProfile: ProfileSeniorDeveloper,
			TargetType:     TargetImplementation,
			Decider:        TransitionRunE2ETests,
			Transitions: map[Transition]State{
				TransitionRunE2ETests:    StateE2ETestsCompleted,
				TransitionE2ETestsFailed: StateUnitTestsCompleted,
			},
		},
		StateE2ETestsCompleted: {
			DefaultProfile: ProfileSeniorDeveloper,
			TargetType:     TargetImplementation,
			Decider:        TransitionEnsureCoverage,
			Transitions: map[Transition]State{
				TransitionEnsureCoverage: StateCoverageCompleted,
				TransitionCoverageFailed: StateE2ETestsCompleted,
			},
		},
		StateCoverageCompleted: {
			DefaultProfile: ProfileSeniorDeveloper,
			TargetType:     TargetImplementation,
			Decider:        TransitionTestsPassing,
			Transitions: map[Transition]State{
				TransitionTestsPassing: StateTestsCompleted,
			},
		},
		StateTestsCompleted: {
			DefaultProfile: ProfileSeniorDeveloper,
			TargetType:     TargetImplementation,
			Decider:        TransitionPickUpNextTask,
			Transitions: map[Transition]State{
				TransitionPickUpNextTask: StateTasksPrepared,
				TransitionNeedMoreTasks:  StateStoriesPrioritized,
			},
		},
		StateNewFeatureProposed: {
			DefaultProfile: ProfilePrioritizationLead,
			TargetType:     TargetFeature,
			Decider:        TransitionPrioritizeFeatures,
			PromptHint:     "A new feature request arrived; slot it into the existing priorities.",
			Transitions: map[Transition]State{
				TransitionPrioritizeFeatures: StateFeaturesPrioritized,
			},
		},
	}
}

func buildTransitions() map[Transition]TransitionSpec {
	return map[Transition]TransitionSpec{
		TransitionPrioritizeThemes:   {AllowedWithoutTask: true},
		TransitionPrioritizeFeatures: {AllowedWithoutTask: true, Fallbacks: []Transition{TransitionDoUXResearch}},
		TransitionRefineIntoInitiatives: {
			NeedsTaskSnapshot: true,
			DescriptionNeeded: true,
			Fallbacks:         []Transition{TransitionResearch},
		},
		TransitionRefineIntoFeatures: {
			NeedsTaskSnapshot: true,
			DescriptionNeeded: true,
			Fallbacks:         []Transition{TransitionResearch},
		},
		TransitionRefineIntoStories: {
			NeedsTaskSnapshot: true,
			DescriptionNeeded: true,
			Fallbacks:         []Transition{TransitionReviewStoryCoverage},
		},
		TransitionRefineIntoTasks: {
			NeedsTaskSnapshot: true,
			DescriptionNeeded: true,
			Fallbacks:         []Transition{TransitionReviewStoryCoverage},
		},
		TransitionBeginImplementation: {
			NeedsTaskSnapshot: true,
			DescriptionNeeded: true,
			Fallbacks:         []Transition{TransitionCloseInvalidTask, TransitionReviewTaskValidity},
		},
		TransitionRunLint:         {NeedsTaskSnapshot: true},
		TransitionRunTypecheck:    {NeedsTaskSnapshot: true},
		TransitionRunUnitTests:    {NeedsTaskSnapshot: true},
		TransitionRunE2ETests:     {NeedsTaskSnapshot: true},
		TransitionEnsureCoverage:  {NeedsTaskSnapshot: true},
		TransitionLintFailed:      {NeedsTaskSnapshot: true, Profile: ProfileSeniorDeveloper},
		TransitionTypecheckFailed: {NeedsTaskSnapshot: true, Profile: ProfileSeniorDeveloper},
		TransitionUnitTestsFailed: {NeedsTaskSnapshot: true, Profile: ProfileSeniorDeveloper},
		TransitionE2ETestsFailed:  {NeedsTaskSnapshot: true, Profile: ProfileE2EInvestigator},
		TransitionCoverageFailed:  {NeedsTaskSnapshot: true, Profile: ProfileSeniorDeveloper},
		TransitionTestsPassing:    {NeedsTaskSnapshot: true},
		TransitionPickUpNextTask:  {AllowedWithoutTask: true},
		TransitionCloseInvalidTask: {
			Profile:           ProfileProductManager,
			DescriptionNeeded: true,
		},
		TransitionReviewTaskValidity: {
			Profile:            ProfileProductManager,
			AllowedWithoutTask: true,
			DescriptionNeeded:  true,
		},
		TransitionReviewStoryCoverage: {
			Profile:            ProfileProductManager,
			AllowedWithoutTask: true,
		},
		TransitionNeedMoreTasks: {AllowedWithoutTask: true, TargetType: TargetStory},
		TransitionResearch:      {AllowedWithoutTask: true},
		TransitionDoUXResearch:  {AllowedWithoutTask: true, Profile: ProfileUXResearcher},
	}
}

// KnownState reports whether the state exists in the graph.
func (g *Graph) KnownState(s State) bool {
	_, ok := g.states[s]
	return ok
}

// StateSpecFor returns the spec of a state.
func (g *Graph) StateSpecFor(s State) (StateSpec, bool) {
	spec, ok := g.states[s]
	return spec, ok
}

// TransitionSpecFor returns the spec of a transition.
func (g *Graph) TransitionSpecFor(t Transition) (TransitionSpec, bool) {
	spec, ok := g.transitions[t]
	return spec, ok
}

// NextState resolves state × transition → target state.
func (g *Graph) NextState(s State, t Transition) (State, bool) {
	spec, ok := g.states[s]
	if !ok {
		return "", false
	}
	next, ok := spec.Transitions[t]
	return next, ok
}

// TransitionAllowed reports whether the transition is defined from the state.
func (g *Graph) TransitionAllowed(s State, t Transition) bool {
	_, ok := g.NextState(s, t)
	return ok
}

// FallbackTransition walks the transition's ordered fallback list and
// returns the first transition defined from the current state.
func (g *Graph) FallbackTransition(s State, current Transition) (Transition, bool) {
	spec, ok := g.transitions[current]
	if !ok {
		return "", false
	}
	for _, fb := range spec.Fallbacks {
		if g.TransitionAllowed(s, fb) {
			return fb, true
		}
	}
	return "", false
}

// CanRunWithoutTask reports whether the transition may execute with no
// selected task.
func (g *Graph) CanRunWithoutTask(t Transition) bool {
	return g.transitions[t].AllowedWithoutTask
}

// TargetTypeFor resolves the task type a transition operates on: the
// transition override first, then the state default.
func (g *Graph) TargetTypeFor(s State, t Transition) TargetType {
	if tt := g.transitions[t].TargetType; tt != "" {
		return tt
	}
	return g.states[s].TargetType
}

// ProfileFor resolves the executing profile: the transition override
// first, then the state default.
func (g *Graph) ProfileFor(s State, t Transition) string {
	if p := g.transitions[t].Profile; p != "" {
		return p
	}
	return g.states[s].DefaultProfile
}

// DeciderFor returns the state's decider transition.
func (g *Graph) DeciderFor(s State) (Transition, bool) {
	spec, ok := g.states[s]
	if !ok || spec.Decider == "" {
		return "", false
	}
	return spec.Decider, ok
}

// PromptHintFor returns the state's prompt hint.
func (g *Graph) PromptHintFor(s State) string {
	return g.states[s].PromptHint
}

// States returns all state names.
func (g *Graph) States() []State {
	out := make([]State, 0, len(g.states))
	for s := range g.states {
		out = append(out, s)
	}
	return out
}

// IsQARun reports whether the transition runs a deterministic QA preflight.
func IsQARun(t Transition) bool {
	switch t {
	case TransitionRunLint, TransitionRunTypecheck, TransitionRunUnitTests,
		TransitionRunE2ETests, TransitionEnsureCoverage:
		return true
	}
	return false
}

// IsQAFailed reports whether the transition remediates a QA failure.
func IsQAFailed(t Transition) bool {
	switch t {
	case TransitionLintFailed, TransitionTypecheckFailed, TransitionUnitTestsFailed,
		TransitionE2ETestsFailed, TransitionCoverageFailed:
		return true
	}
	return false
}

// IsQATracked reports whether currentTaskId is persisted for the
// transition: begin-implementation, all run-*, all *-failed, tests-passing.
func IsQATracked(t Transition) bool {
	return t == TransitionBeginImplementation || t == TransitionTestsPassing ||
		IsQARun(t) || IsQAFailed(t)
}

// FailedTransitionFor returns the *-failed sibling of a QA run transition.
func FailedTransitionFor(run Transition) (Transition, bool) {
	switch run {
	case TransitionRunLint:
		return TransitionLintFailed, true
	case TransitionRunTypecheck:
		return TransitionTypecheckFailed, true
	case TransitionRunUnitTests:
		return TransitionUnitTestsFailed, true
	case TransitionRunE2ETests:
		return TransitionE2ETestsFailed, true
	case TransitionEnsureCoverage:
		return TransitionCoverageFailed, true
	}
	return "", false
}
