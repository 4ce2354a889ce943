package usecase

import (
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
)

// symbolState tracks one watched symbol: its bar history ring, the current
// setup state, and the single-flight guard for analyses.
type symbolState struct {
	mu        sync.Mutex
	bars      []models.Bar
	state     models.SetupState
	direction models.Direction
	busy      bool
	rerun     bool // a bar landed while busy; analyze again when done
	lastBarAt time.Time
	lastScore float64
}

func newSymbolState() *symbolState {
	return &symbolState{
		state:     models.StateIdle,
		direction: models.DirectionNeutral,
	}
}

// nextState computes the transition for a fresh overall score. Transitions
// are edge-triggered: an event fires only when the state actually moves into
// forming or ready, so repeated scores above a threshold stay silent. A score
// at or above ready from any other state emits ready directly; forming is not
// announced on the way through.
func nextState(cur models.SetupState, score, forming, ready float64) (models.SetupState, models.EventType, bool) {
	switch {
	case score >= ready:
		if cur != models.StateReady {
			return models.StateReady, models.EventSetupReady, true
		}
		return models.StateReady, "", false
	case score >= forming:
		if cur == models.StateIdle {
			return models.StateForming, models.EventSetupForming, true
		}
		// an active setup cooling off below ready keeps its state
		return cur, "", false
	default:
		return models.StateIdle, "", false
	}
}
