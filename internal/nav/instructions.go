package nav

import "navtrack/internal/route"

// Instructions returns the instruction text of the step at index and the two
// after it. Slots past either end of steps are empty.
func Instructions(index int, steps []route.Step) (current, next, upcoming string) {
	at := func(i int) string {
		if i < 0 || i >= len(steps) {
			return ""
		}
		return steps[i].Instruction
	}
	if index < 0 {
		return "", "", ""
	}
	return at(index), at(index + 1), at(index + 2)
}
