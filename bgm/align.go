package bgm

// align rounds value up to a multiple of n. A zero value still advances a full
// unit, so the result for n > 1 is never zero. n of 0 or 1 leaves value as is.
func align(value, n uint32) uint32 {
	if n <= 1 {
		return value
	}
	if value == 0 {
		return n
	}
	if value%n == 0 {
		return value
	}
	return value + (n - value%n)
}
