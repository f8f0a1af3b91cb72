package orchestration

import (
	"github.com/koscakluka/duet/core/dialogue"
)

// input is anything the actor loop processes.
type input interface {
	isInput()
}

type loadRequested struct{}

type loadCompleted struct {
	epoch       uint64
	session     *dialogue.Session
	turns       []dialogue.Turn
	unsubscribe func()
	err         error
}

type timerFired struct {
	slot slot
	seq  uint64
}

type generationCompleted struct {
	epoch   uint64
	speaker dialogue.Speaker
	text    string
	err     error
}

type remoteTurn struct {
	epoch uint64
	turn  dialogue.Turn
}

type humanTurn struct {
	text  string
	reply chan error
}

type persistFailed struct {
	turn dialogue.Turn
	err  error
}

type subscriptionLost struct {
	epoch uint64
	err   error
}

type resubscribed struct {
	epoch       uint64
	turns       []dialogue.Turn
	unsubscribe func()
	err         error
}

type closeRequested struct{}

func (loadRequested) isInput()       {}
func (loadCompleted) isInput()       {}
func (timerFired) isInput()          {}
func (generationCompleted) isInput() {}
func (remoteTurn) isInput()          {}
func (humanTurn) isInput()           {}
func (persistFailed) isInput()       {}
func (subscriptionLost) isInput()    {}
func (resubscribed) isInput()        {}
func (closeRequested) isInput()      {}
