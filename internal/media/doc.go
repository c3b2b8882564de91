// Package media wraps the ffmpeg and ffprobe invocations the pipeline needs:
// mono audio extraction, segment slicing, duration probing, and silence
// detection. Commands run through an injectable runner so tests never shell
// out.
package media
