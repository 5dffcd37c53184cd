// Package transcoder turns a trimmed video segment into a looping GIF.
//
// Two invokers implement the Invoker interface:
//   - FFmpeg: one ffmpeg run with a palettegen/paletteuse filter graph
//   - FrameEncoder: ffmpeg extracts PNG frames; resizing, dithering and GIF
//     encoding are done in Go
//
// Both enforce a wall-clock timeout, kill the process when it expires, and
// check that a non-empty output file was produced. Failures are reported as
// *Error values whose kind is one of ErrTimeout, ErrProcessFailed or
// ErrEmptyOutput. Neither invoker retries; choosing a fallback is the
// caller's decision.
//
// FFprobe implements Prober and is used to read a clip's duration before
// conversion.
//
// ffmpeg and ffprobe must be installed; their paths are configurable.
package transcoder
