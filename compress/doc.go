// Package compress implements the lossless codec for the sample matrix of a
// CNT recording.
//
// One epoch is a height x length matrix of signed words, one row per
// channel. Each row is reduced by a predictive transform (raw copy, first
// difference, second difference, or difference against the previous row),
// and the residuals are packed under a small per-row header with either a
// fixed width code or a variable width code that escapes wide values behind
// an exception marker. Rows are byte aligned and concatenated without
// delimiters; height, length and the per-epoch byte ranges live in the
// surrounding container.
//
// Two format disciplines exist on the wire. The reflib format is pinned to
// 4-byte words and a two entry size table, for compatibility with files
// produced by the reference library. The extended format supports 1, 2, 4
// and 8 byte words.
package compress
