// ABOUTME: Error values for the audio package
// ABOUTME: Sentinels so callers can match with errors.Is
package audio

import "errors"

// ErrBadFrame marks a PCM byte buffer whose length is not a whole
// number of samples.
var ErrBadFrame = errors.New("pcm frame length is not sample-aligned")
