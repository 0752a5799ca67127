// Package bamprovider provides utilities for reading regions of an indexed
// BAM file in parallel.
//
// The Provider hands out iterators backed by a shared free pool of readers,
// so many goroutines can each scan their own region of one file at once.
package bamprovider
