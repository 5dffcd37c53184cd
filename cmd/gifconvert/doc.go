// Command gifconvert converts a local clip to a looping GIF with the same
// encoders the chromi server uses, without a server, queue or token store.
//
// Usage:
//
//	gifconvert convert <input> [--start HH:MM:SS] [--output file|-]
//	gifconvert probe <input>
//
// Progress lines go to stderr only when stderr is a terminal, so the
// command stays quiet in scripts.
package main
