// Package frames holds rigid transforms between named coordinate frames.
//
// A Transform maps points expressed in a child frame into its parent frame.
// Buffer keeps a short, time-indexed history of those transforms, chains
// them through the frame tree, and answers lookups between any two
// connected frames at a given stamp.
package frames
