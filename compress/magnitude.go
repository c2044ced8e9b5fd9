package compress

// Magnitude reductions. Each transforms one row of unsigned words so that
// most residuals end up small in magnitude and lose their leading bits in
// the block encoding. All arithmetic is modular within the word width
// (mask selects the low 8*W bits); the inverses run as prefix sums.

// reduceTime computes first differences along the row:
// r[0] = x[0], r[i] = x[i] - x[i-1].
func reduceTime(dst, row []uint64, mask uint64) {
	dst[0] = row[0]
	for i := 1; i < len(row); i++ {
		dst[i] = (row[i] - row[i-1]) & mask
	}
}

// reduceTime2FromTime derives second differences from the first differences
// of the same row: r[0] = x[0], r[1] = x[1] - x[0],
// r[i] = (x[i] - x[i-1]) - (x[i-1] - x[i-2]).
func reduceTime2FromTime(dst, time []uint64, mask uint64) {
	dst[0] = time[0]
	if len(time) < 2 {
		return
	}
	dst[1] = time[1]
	for i := 2; i < len(time); i++ {
		dst[i] = (time[i] - time[i-1]) & mask
	}
}

// reduceChanFromTime folds the previous row into the first differences:
// r[0] = x[0], r[i] = (x[i] - x[i-1]) + (p[i-1] - p[i]).
func reduceChanFromTime(dst, prev, row, time []uint64, mask uint64) {
	dst[0] = row[0]
	for i := 1; i < len(row); i++ {
		dst[i] = (time[i] + prev[i-1] - prev[i]) & mask
	}
}

// restoreTime inverts reduceTime in place with one prefix sum.
func restoreTime(row []uint64, mask uint64) {
	for i := 1; i < len(row); i++ {
		row[i] = (row[i] + row[i-1]) & mask
	}
}

// restoreTime2 inverts the second difference with two prefix sums, both in
// place on the output buffer: the first rebuilds the first differences, the
// second rebuilds the row.
func restoreTime2(row []uint64, mask uint64) {
	for i := 2; i < len(row); i++ {
		row[i] = (row[i] + row[i-1]) & mask
	}
	for i := 1; i < len(row); i++ {
		row[i] = (row[i] + row[i-1]) & mask
	}
}

// restoreChan inverts reduceChanFromTime against the already restored
// previous row. The running sum of residuals S[i] satisfies
// x[i] = S[i] + p[i] + (x[0] - p[0]).
func restoreChan(prev, row []uint64, mask uint64) {
	c := (row[0] - prev[0]) & mask
	var sum uint64
	for i := 1; i < len(row); i++ {
		sum = (sum + row[i]) & mask
		row[i] = (sum + prev[i] + c) & mask
	}
}

// restoreMagnitude inverts the reduction selected by the block header.
func restoreMagnitude(prev, row []uint64, m method, mask uint64) {
	switch m {
	case methodCopy:
		// identity
	case methodTime:
		restoreTime(row, mask)
	case methodTime2:
		restoreTime2(row, mask)
	case methodChan:
		restoreChan(prev, row, mask)
	}
}
