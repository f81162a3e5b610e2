// Package dedupe remembers recent submissions for a configurable window so
// repeated work can be answered with the result of the first attempt.
//
// The run service keys entries by Key(student, text) and stores the run ID;
// the Matrix bridge keys entries by event ID to drop redelivered events.
package dedupe
