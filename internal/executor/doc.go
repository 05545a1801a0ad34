// Package executor drives a single work item through download, optional
// merge, and completion.
//
// Each attempt owns its scratch files. Whatever the outcome, every scratch
// and partial output file of the attempt is gone when Run returns, except
// the promoted or merged artifact of a successful attempt. Run never marks
// an item failed; the caller decides between failing and retrying.
package executor
