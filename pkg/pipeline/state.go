package pipeline

// State is a step of the per-image state machine.
type State string

const (
	StateStarted   State = "started"
	StateDetected  State = "detected"
	StateCropped   State = "cropped"
	StateExtracted State = "extracted"
	StateLogged    State = "logged"
	StateComplete  State = "complete"
	StateErrored   State = "errored"
)

// Steps named in ImageSummary.FailedStep.
const (
	StepDetection = "detection"
	StepArtifacts = "artifacts"
	StepLogging   = "logging"
	StepMetadata  = "metadata"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateErrored
}
