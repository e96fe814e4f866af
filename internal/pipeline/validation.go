package pipeline

import "fmt"

// ValidationFailure is one fatal finding from the pre-ready gate.
type ValidationFailure struct {
	Check     string `json:"check"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// ValidationWarning is a non-fatal finding reported alongside the result.
type ValidationWarning struct {
	Check  string `json:"check"`
	Reason string `json:"reason"`
}

// GateResult collects every finding from one gate evaluation.
type GateResult struct {
	Failures []ValidationFailure `json:"failures,omitempty"`
	Warnings []ValidationWarning `json:"warnings,omitempty"`
}

// Passed reports whether the run may be announced ready.
func (r GateResult) Passed() bool { return len(r.Failures) == 0 }

// Gate holds the consistency checks that run after the final stage. The
// gate always evaluates every check so a failing run reports all of its
// problems at once.
type Gate struct {
	CoverArtRequired bool
	SoundEffects     bool
}

// Check evaluates the completed run.
func (g Gate) Check(run *Run, content Content) GateResult {
	var res GateResult

	g.checkStageStatuses(run, &res)
	g.checkCoverArt(run, &res)
	g.checkVoiceDiversity(run, &res)
	g.checkEffectReadiness(run, &res)

	return res
}

func (g Gate) checkStageStatuses(run *Run, res *GateResult) {
	for _, st := range stageTable {
		status := run.Status(st.ID)
		if status == StatusSuccess {
			continue
		}
		res.Failures = append(res.Failures, ValidationFailure{
			Check:     "stage-status",
			Reason:    fmt.Sprintf("stage %s finished as %s", st.ID, status),
			Retryable: status == StatusError,
		})
	}
}

func (g Gate) checkCoverArt(run *Run, res *GateResult) {
	raw := run.Result(StageCover)
	var cover CoverPayload
	if raw == nil || DecodePayload(raw, &cover) != nil {
		if g.CoverArtRequired {
			res.Failures = append(res.Failures, ValidationFailure{
				Check:     "cover-art",
				Reason:    "cover art result missing",
				Retryable: true,
			})
		}
		return
	}
	if cover.URL != "" {
		return
	}
	if g.CoverArtRequired {
		reason := "cover art URL is empty"
		if cover.Reason != "" {
			reason = fmt.Sprintf("cover art URL is empty: %s", cover.Reason)
		}
		res.Failures = append(res.Failures, ValidationFailure{
			Check:     "cover-art",
			Reason:    reason,
			Retryable: true,
		})
		return
	}
	res.Warnings = append(res.Warnings, ValidationWarning{
		Check:  "cover-art",
		Reason: "continuing without cover art",
	})
}

// checkVoiceDiversity warns when a multi-character scene collapsed onto a
// single voice, which usually means category matching found nothing.
func (g Gate) checkVoiceDiversity(run *Run, res *GateResult) {
	raw := run.Result(StageVoices)
	var voices VoicesPayload
	if raw == nil || DecodePayload(raw, &voices) != nil {
		res.Failures = append(res.Failures, ValidationFailure{
			Check:     "voice-roster",
			Reason:    "voice roster result missing",
			Retryable: true,
		})
		return
	}
	if len(voices.Roster) == 0 {
		res.Failures = append(res.Failures, ValidationFailure{
			Check:     "voice-roster",
			Reason:    "voice roster is empty",
			Retryable: true,
		})
		return
	}
	if len(voices.Roster) < 2 {
		return
	}
	distinct := make(map[string]struct{}, len(voices.Roster))
	for _, entry := range voices.Roster {
		distinct[entry.VoiceID] = struct{}{}
	}
	if len(distinct) == 1 {
		res.Warnings = append(res.Warnings, ValidationWarning{
			Check:  "voice-diversity",
			Reason: fmt.Sprintf("%d characters share one voice", len(voices.Roster)),
		})
	}
}

func (g Gate) checkEffectReadiness(run *Run, res *GateResult) {
	if !g.SoundEffects {
		return
	}
	raw := run.Result(StageSFX)
	var sfx SFXPayload
	if raw == nil || DecodePayload(raw, &sfx) != nil {
		res.Failures = append(res.Failures, ValidationFailure{
			Check:     "effect-readiness",
			Reason:    "sound effect result missing",
			Retryable: true,
		})
		return
	}
	if !sfx.Enabled {
		return
	}
	if missing := len(sfx.Effects) - sfx.ReadyCount(); missing > 0 {
		res.Failures = append(res.Failures, ValidationFailure{
			Check:     "effect-readiness",
			Reason:    fmt.Sprintf("%d of %d detected effects are not cached", missing, len(sfx.Effects)),
			Retryable: true,
		})
	}
}
