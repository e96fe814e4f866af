package pipeline

import "fmt"

// StageID identifies one generation stage.
type StageID string

const (
	StageVoices StageID = "voices"
	StageSFX    StageID = "sfx"
	StageCover  StageID = "cover"
	StageQA     StageID = "qa"
	StageAudio  StageID = "audio"

	// StageChoices is the optional choice-narration pass. It runs after the
	// main stages and is not part of the tracked status map.
	StageChoices StageID = "choices"
)

// Status is the lifecycle state of a stage within one run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Stage holds the static execution metadata for one stage.
type Stage struct {
	ID           StageID
	DisplayName  string
	DependsOn    []StageID
	ParallelWith StageID
	// ProgressStart and ProgressEnd bound this stage's slice of the overall
	// 0-100 progress scale.
	ProgressStart float64
	ProgressEnd   float64
}

var stageTable = []Stage{
	{
		ID:            StageVoices,
		DisplayName:   "Voice casting",
		ProgressStart: 0,
		ProgressEnd:   20,
	},
	{
		ID:            StageSFX,
		DisplayName:   "Sound effects",
		DependsOn:     []StageID{StageVoices},
		ParallelWith:  StageCover,
		ProgressStart: 20,
		ProgressEnd:   45,
	},
	{
		ID:            StageCover,
		DisplayName:   "Cover art",
		DependsOn:     []StageID{StageVoices},
		ParallelWith:  StageSFX,
		ProgressStart: 20,
		ProgressEnd:   45,
	},
	{
		ID:            StageQA,
		DisplayName:   "Content review",
		DependsOn:     []StageID{StageSFX, StageCover},
		ProgressStart: 45,
		ProgressEnd:   70,
	},
	{
		ID:            StageAudio,
		DisplayName:   "Speech synthesis",
		DependsOn:     []StageID{StageQA},
		ProgressStart: 70,
		ProgressEnd:   100,
	},
}

// Stages returns the stage table in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageTable))
	copy(out, stageTable)
	return out
}

// StageByID looks up stage metadata.
func StageByID(id StageID) (Stage, bool) {
	for _, st := range stageTable {
		if st.ID == id {
			return st, true
		}
	}
	return Stage{}, false
}

// StageIDs returns the tracked stage ids in execution order.
func StageIDs() []StageID {
	ids := make([]StageID, len(stageTable))
	for i, st := range stageTable {
		ids[i] = st.ID
	}
	return ids
}

// transition reports whether a status change is legal. Error recovers to
// pending only through an explicit retry; completed stages never move.
func transition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusSuccess || to == StatusError
	case StatusError:
		return to == StatusPending
	default:
		return false
	}
}

func validStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSuccess, StatusError:
		return true
	}
	return false
}

func invalidTransitionError(stage StageID, from, to Status) error {
	return fmt.Errorf("stage %s: illegal transition %s -> %s", stage, from, to)
}
