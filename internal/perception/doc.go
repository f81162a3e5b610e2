// Package perception converts non-text submissions into problem text.
//
// Images (jpg, png) are sent to a vision-capable chat model with an
// instruction to transcribe the problem exactly. Audio (mp3, wav, m4a) goes
// to the provider's transcription endpoint with a prompt that favors spoken
// math vocabulary.
//
// Extraction never starts a solve. Callers show the text to the student for
// confirmation or editing and submit the result separately.
package perception
