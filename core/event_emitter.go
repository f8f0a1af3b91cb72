package orchestration

import events "github.com/koscakluka/duet/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

func newCallbackEventEmitter(opts OrchestrateOptions) eventEmitter {
	return func(event events.Event) {
		if opts.onEvent != nil {
			opts.onEvent(event)
		}

		switch typedEvent := event.(type) {
		case events.TurnAppended:
			if opts.onTurn != nil {
				opts.onTurn(typedEvent.Turn)
			}
		case events.TypingStarted:
			if opts.onTyping != nil {
				opts.onTyping(typedEvent.Speaker, true)
			}
		case events.TypingStopped:
			if opts.onTyping != nil {
				opts.onTyping("", false)
			}
		case events.DormancyStarted:
			if opts.onDormancy != nil {
				opts.onDormancy(true)
			}
		case events.DormancyEnded:
			if opts.onDormancy != nil {
				opts.onDormancy(false)
			}
		case events.SessionLoadFailed:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		case events.TurnGenerationFailed:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		case events.TurnPersistenceFailed:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		case events.BroadcastLost:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		case events.StateChanged:
			if opts.onStateChange != nil {
				opts.onStateChange(typedEvent.From, typedEvent.To)
			}
		}
	}
}
