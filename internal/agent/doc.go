// Package agent defines the Runner interface that job work functions
// implement, the Work value passed to them, and the registry that resolves a
// runner from a job's agent name.
package agent
