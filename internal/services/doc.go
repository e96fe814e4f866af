// Package services holds the error taxonomy and context plumbing shared by
// every external collaborator client, plus the clients themselves in
// subpackages. The generative systems behind those clients (voice casting,
// sound-effect detection, cover-art generation, safety scoring, speech
// synthesis) are remote services; this package only shapes requests,
// validates responses, and classifies failures.
package services
