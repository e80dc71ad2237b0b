package oddsmath

// CLV returns closing line value in probability points: closingImplied − placedImplied.
// Positive means the bet was placed at a better number than the close.
func CLV(placed, closing int) (float64, error) {
	placedImplied, err := ImpliedProbability(placed)
	if err != nil {
		return 0, err
	}
	closingImplied, err := ImpliedProbability(closing)
	if err != nil {
		return 0, err
	}
	return closingImplied - placedImplied, nil
}
