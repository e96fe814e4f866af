// Package pipeline sequences the generation stages that prepare a story
// scene for playback: voice casting, sound-effect detection, cover art,
// content review, and speech synthesis. Runs persist a snapshot after every
// stage so an interrupted run resumes from its last completed stage, and a
// validation gate inspects the finished run before the ready announcement
// goes out.
package pipeline
