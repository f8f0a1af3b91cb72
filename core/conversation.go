package orchestration

import (
	"sync"

	"github.com/koscakluka/duet/core/dialogue"
)

// conversationView is the presentation state. The actor writes it; any
// goroutine may read it.
type conversationView struct {
	mu sync.RWMutex

	state       State
	session     *dialogue.Session
	nextSpeaker dialogue.Speaker
	typing      dialogue.Speaker
	lastErr     error
}

// ConversationSnapshot is a point-in-time view of the dialogue.
type ConversationSnapshot struct {
	State       State
	Session     *dialogue.Session
	Turns       []dialogue.Turn
	NextSpeaker dialogue.Speaker
	// Typing is empty when nobody is shown as composing.
	Typing  dialogue.Speaker
	LastErr error
}

func (v *conversationView) snapshot() ConversationSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var session *dialogue.Session
	if v.session != nil {
		copied := *v.session
		session = &copied
	}

	return ConversationSnapshot{
		State:       v.state,
		Session:     session,
		NextSpeaker: v.nextSpeaker,
		Typing:      v.typing,
		LastErr:     v.lastErr,
	}
}

func (v *conversationView) getState() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

func (v *conversationView) setState(state State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = state
}

func (v *conversationView) getSession() *dialogue.Session {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.session == nil {
		return nil
	}
	copied := *v.session
	return &copied
}

func (v *conversationView) setSession(session *dialogue.Session) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.session = session
}

func (v *conversationView) getNextSpeaker() dialogue.Speaker {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.nextSpeaker
}

func (v *conversationView) setNextSpeaker(speaker dialogue.Speaker) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextSpeaker = speaker
}

func (v *conversationView) getTyping() dialogue.Speaker {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.typing
}

// swapTyping sets the typing speaker and reports whether it changed.
func (v *conversationView) swapTyping(speaker dialogue.Speaker) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.typing == speaker {
		return false
	}
	v.typing = speaker
	return true
}

func (v *conversationView) getLastErr() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastErr
}

func (v *conversationView) setLastErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastErr = err
}
