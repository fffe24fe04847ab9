// Package types defines the shared error taxonomy for the experimentation
// core. All caller-fault failures (validation, unknown experiment, illegal
// lifecycle transition, missing assignment) are expressed as *types.Error
// values with stable string codes, so transports can map them to status codes
// without string matching.
package types
