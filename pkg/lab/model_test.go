package lab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobIDShortID(t *testing.T) {
	assert.Equal(t, "abcdefg-slug", JobID("abcdefghijk-slug").ShortID())
	assert.Equal(t, "abc-slug", JobID("abc-slug").ShortID())
	assert.Equal(t, "noslug", JobID("noslug").ShortID())
	assert.Equal(t, "1234567", JobID("123456789").ShortID())
}

func TestParseRunIDRejectsReservedWords(t *testing.T) {
	_, err := ParseRunID("missing")
	require.Error(t, err)
	_, err = ParseRunID("pending")
	require.Error(t, err)

	id, err := ParseRunID("my-run")
	require.NoError(t, err)
	assert.Equal(t, RunID("my-run"), id)
}

func TestInputMappingKind(t *testing.T) {
	depJob := JobID("dep")
	runID := RunID("run-1")

	assert.Equal(t, MappingDependency, InputMapping{JobID: &depJob, SourceOutput: "out", TargetInput: "in"}.Kind())
	assert.Equal(t, MappingGlobal, InputMapping{MappingType: "global", TargetInput: "in"}.Kind())
	assert.Equal(t, MappingGlobal, InputMapping{TargetInput: "store__base"}.Kind())
	assert.Equal(t, MappingRunMetadata, InputMapping{SourceRun: &runID, TargetInput: "in"}.Kind())
	assert.Equal(t, MappingUnknown, InputMapping{TargetInput: "in"}.Kind())
}

func TestExecutableOutputTemplate(t *testing.T) {
	exe := Executable{Outputs: map[string]interface{}{
		"default": "$out/result.txt",
		"bad":     42,
	}}

	tmpl, err := exe.OutputTemplate("default")
	require.NoError(t, err)
	assert.Equal(t, "$out/result.txt", tmpl)

	_, err = exe.OutputTemplate("bad")
	require.Error(t, err)

	_, err = exe.OutputTemplate("missing")
	require.Error(t, err)
}

func TestJobValidate(t *testing.T) {
	simple := Job{StageType: "simple", Executables: map[string]Executable{"main": {}}}
	require.NoError(t, simple.Validate())

	missingMain := Job{StageType: "simple", Executables: map[string]Executable{}}
	require.Error(t, missingMain.Validate())

	sg := Job{StageType: "scatter-gather", Executables: map[string]Executable{
		"scatter": {}, "worker": {}, "gather": {},
	}}
	require.NoError(t, sg.Validate())

	incompleteSG := Job{StageType: "scatter-gather", Executables: map[string]Executable{"scatter": {}}}
	require.Error(t, incompleteSG.Validate())

	unknown := Job{StageType: "bogus"}
	require.Error(t, unknown.Validate())
}

func TestJobEntrypointAndOutputExecutable(t *testing.T) {
	simple := Job{StageType: "simple", Executables: map[string]Executable{"main": {Path: "bin/main"}}}
	exe, name, err := simple.EntrypointExecutable()
	require.NoError(t, err)
	assert.Equal(t, "main", name)
	assert.Equal(t, "bin/main", exe.Path)

	exe, name, err = simple.OutputExecutable()
	require.NoError(t, err)
	assert.Equal(t, "main", name)
	assert.Equal(t, "bin/main", exe.Path)

	sg := Job{StageType: "scatter-gather", Executables: map[string]Executable{
		"scatter": {Path: "bin/scatter"},
		"gather":  {Path: "bin/gather"},
	}}
	exe, name, err = sg.EntrypointExecutable()
	require.NoError(t, err)
	assert.Equal(t, "scatter", name)
	assert.Equal(t, "bin/scatter", exe.Path)

	exe, name, err = sg.OutputExecutable()
	require.NoError(t, err)
	assert.Equal(t, "gather", name)
	assert.Equal(t, "bin/gather", exe.Path)
}

func TestJobAllDependenciesDeduplicatesAcrossExecutables(t *testing.T) {
	a := JobID("a")
	b := JobID("b")
	j := Job{
		StageType: "scatter-gather",
		Executables: map[string]Executable{
			"scatter": {Inputs: []InputMapping{{JobID: &a, SourceOutput: "o", TargetInput: "i"}}},
			"worker":  {Inputs: []InputMapping{{JobID: &a, SourceOutput: "o", TargetInput: "i"}}},
			"gather":  {Inputs: []InputMapping{{JobID: &b, SourceOutput: "o", TargetInput: "i"}}},
		},
	}
	deps := j.AllDependencies()
	assert.ElementsMatch(t, []JobID{a, b}, deps)
}

func TestLabValidateCatchesUnknownReferences(t *testing.T) {
	missing := JobID("missing")

	l := &Lab{
		Jobs: map[JobID]Job{
			"a": {StageType: "simple", Executables: map[string]Executable{
				"main": {Inputs: []InputMapping{{JobID: &missing, SourceOutput: "o", TargetInput: "i"}}},
			}},
		},
	}
	require.Error(t, l.Validate())

	l2 := &Lab{
		Jobs: map[JobID]Job{"a": {StageType: "simple", Executables: map[string]Executable{"main": {}}}},
		Runs: map[RunID]Run{"r": {Jobs: []JobID{"does-not-exist"}}},
	}
	require.Error(t, l2.Validate())

	l3 := &Lab{
		Jobs: map[JobID]Job{"a": {StageType: "simple", Executables: map[string]Executable{"main": {}}}},
		Runs: map[RunID]Run{"r": {Jobs: []JobID{"a"}}},
	}
	require.NoError(t, l3.Validate())
}

func TestJobOutputAndRepxDirs(t *testing.T) {
	assert.Equal(t, "outputs/job-1/out", JobOutputDir(JobID("job-1")))
	assert.Equal(t, "outputs/job-1/repx", JobRepxDir(JobID("job-1")))
}
