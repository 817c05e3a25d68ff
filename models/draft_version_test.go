package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionFlagsMergeMonotonic(t *testing.T) {
	prev := VersionFlags{CorrectedByJudge: true, RegionalAdaptationsApplied: true}

	merged := VersionFlags{AppellateAdaptationsApplied: true}.Merge(prev)

	assert.True(t, merged.CorrectedByJudge, "predecessor flags carry forward")
	assert.True(t, merged.RegionalAdaptationsApplied)
	assert.True(t, merged.AppellateAdaptationsApplied)
	assert.False(t, merged.FinalVersion)
}

func TestVersionFlagsRegenerationResets(t *testing.T) {
	// A full regeneration starts from zero flags without merging, so the
	// fresh value is the whole story.
	fresh := VersionFlags{}
	assert.False(t, fresh.CorrectedByJudge)
	assert.False(t, fresh.RegionalAdaptationsApplied)
	assert.False(t, fresh.AppellateAdaptationsApplied)
	assert.False(t, fresh.FinalVersion)
}

func TestVersionFlagsScanRoundTrip(t *testing.T) {
	original := VersionFlags{RegionalAdaptationsApplied: true, FinalVersion: true}

	value, err := original.Value()
	assert.NoError(t, err)

	var scanned VersionFlags
	assert.NoError(t, scanned.Scan(value))
	assert.Equal(t, original, scanned)

	var fromNil VersionFlags
	assert.NoError(t, fromNil.Scan(nil))
	assert.Equal(t, VersionFlags{}, fromNil)
}

func TestPipelineRunStageLookup(t *testing.T) {
	run := &PipelineRun{
		Stages: StageStates{
			{Name: StageQualityAnalysis, Status: StageCompleted},
			{Name: StageAutoFix, Status: StagePending},
		},
	}

	stage := run.StageState(StageAutoFix)
	assert.NotNil(t, stage)
	assert.Equal(t, StagePending, stage.Status)

	assert.Nil(t, run.StageState(StageFinalization))
}
