package queue

// WriteStateForTest seeds a persisted snapshot for recovery tests.
func WriteStateForTest(dir string, state State) error {
	return saveState(dir, state)
}
