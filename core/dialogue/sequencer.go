package dialogue

import "slices"

// NextOrder returns the order the next turn must take.
func NextOrder(turns []Turn) int {
	highest := 0
	for _, turn := range turns {
		highest = max(highest, turn.Order)
	}
	return highest + 1
}

// NextSpeaker decides whose turn it is from the last machine-authored turn.
// Human turns are skipped, so an interjection never changes the alternation.
func NextSpeaker(turns []Turn) Speaker {
	for _, turn := range slices.Backward(turns) {
		if turn.Speaker.IsMachine() {
			return turn.Speaker.Opposite()
		}
	}
	return DefaultSpeaker
}

// Recent returns at most the last n turns. A non-positive n returns all of
// them.
func Recent(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return slices.Clone(turns)
	}
	return slices.Clone(turns[len(turns)-n:])
}
