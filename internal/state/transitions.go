package state

import "qms/counter-console/internal/models"

const (
	ActionCall     = "call"
	ActionRecall   = "recall"
	ActionStart    = "start"
	ActionSkip     = "skip"
	ActionReturn   = "return"
	ActionComplete = "complete"
)

// Client-observed token lifecycle. The backend decides legality; this map is
// only used to flag commands issued against a status the console believes
// cannot accept them.
var transitionMap = map[string][]models.TokenStatus{
	ActionCall:     {models.StatusWaiting},
	ActionRecall:   {models.StatusCalled},
	ActionStart:    {models.StatusCalled},
	ActionSkip:     {models.StatusCalled, models.StatusServing},
	ActionReturn:   {models.StatusCalled, models.StatusServing},
	ActionComplete: {models.StatusServing},
}

var resultStatus = map[string]models.TokenStatus{
	ActionCall:     models.StatusCalled,
	ActionRecall:   models.StatusCalled,
	ActionStart:    models.StatusServing,
	ActionSkip:     models.StatusSkipped,
	ActionReturn:   models.StatusWaiting,
	ActionComplete: models.StatusCompleted,
}

func ValidTransition(action string, from models.TokenStatus) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}

// ResultStatus is the status a token holds after action succeeds.
func ResultStatus(action string) (models.TokenStatus, bool) {
	status, ok := resultStatus[action]
	return status, ok
}
