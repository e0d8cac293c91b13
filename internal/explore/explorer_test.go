package explore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStory(t *testing.T, story *fakeStory, limits Limits) (*Explorer, *recorder, Outcome, error) {
	t.Helper()
	rec := &recorder{}
	e, err := New(story, Options{Limits: limits, Observer: rec})
	require.NoError(t, err)
	out, err := e.Run(context.Background())
	return e, rec, out, err
}

func twoEndings() *fakeStory {
	return newFakeStory("start", map[string]fakeNode{
		"start": {lines: []string{"Pick a door."}, choices: []fakeEdge{{"Left", "win"}, {"Right", "lose"}}},
		"win":   {lines: []string{"You won."}},
		"lose":  {lines: []string{"You lost."}},
	})
}

func TestTwoChoicesTwoEndings(t *testing.T) {
	e, rec, out, err := runStory(t, twoEndings(), testLimits())
	require.NoError(t, err)
	assert.Equal(t, Completed, out)

	totals := e.State().Totals
	assert.Equal(t, 2, totals.ChoicesCount)
	assert.Equal(t, 2, totals.EndingsCount)
	assert.Equal(t, 1, totals.MaxDepthReached)
	assert.Equal(t, 0, totals.MaxDepthAborts)
	assert.Empty(t, rec.faults)

	final := rec.last()
	require.NotNil(t, final)
	assert.True(t, final.Final)
	assert.Nil(t, final.Resume)
	assert.Len(t, final.Endings, 2)
	lines := []string{rec.endings[0].LastLine, rec.endings[1].LastLine}
	assert.ElementsMatch(t, []string{"You won.", "You lost."}, lines)
}

func TestStepBudgetFaultFiresOnce(t *testing.T) {
	story := newFakeStory("start", map[string]fakeNode{
		"start": {lines: []string{"The wheel turns."}, divert: "spin"},
		"spin":  {lines: []string{"...and turns."}, divert: "spin", bump: true},
	})
	limits := testLimits()
	limits.MaxSteps = 50
	e, rec, out, err := runStory(t, story, limits)
	require.NoError(t, err)
	assert.Equal(t, Completed, out)

	require.Len(t, rec.faults, 1)
	assert.Equal(t, KindStepBudget, rec.faults[0].Kind)
	assert.Equal(t, "start", rec.faults[0].DecisionPoint)
	assert.Equal(t, 50, e.State().Totals.MaxStepsBetweenChoices)
	require.Len(t, rec.last().Errors, 1)
	assert.Equal(t, 0, e.State().Totals.EndingsCount)
}

func TestLoopFaultOnRepeatedState(t *testing.T) {
	story := newFakeStory("start", map[string]fakeNode{
		"start": {lines: []string{"Hello."}, divert: "again"},
		"again": {lines: []string{"Again."}, divert: "again"},
	})
	_, rec, out, err := runStory(t, story, testLimits())
	require.NoError(t, err)
	assert.Equal(t, Completed, out)

	require.Len(t, rec.faults, 1)
	assert.Equal(t, KindLoop, rec.faults[0].Kind)
	assert.Equal(t, "start", rec.faults[0].DecisionPoint)
	assert.Equal(t, "No choices made", rec.faults[0].LastChoice)
}

func TestDepthGuardNeverExpandsDeepFrames(t *testing.T) {
	story := newFakeStory("room", map[string]fakeNode{
		"room": {lines: []string{"A corridor."}, choices: []fakeEdge{{"Go on", "room"}}, bump: true},
	})
	limits := testLimits()
	limits.MaxDepth = 5
	e, rec, _, err := runStory(t, story, limits)
	require.NoError(t, err)

	totals := e.State().Totals
	assert.Equal(t, 1, totals.MaxDepthAborts)
	assert.Equal(t, 5, totals.MaxDepthReached)
	assert.Equal(t, 0, totals.EndingsCount)
	assert.Empty(t, rec.faults)
	for _, st := range story.loads {
		assert.Less(t, st.N, limits.MaxDepth, "frame at depth %d was expanded", st.N)
	}
}

func TestVisitedStatesExpandOncePerEpoch(t *testing.T) {
	diamond := func() *fakeStory {
		return newFakeStory("start", map[string]fakeNode{
			"start": {lines: []string{"Two paths."}, choices: []fakeEdge{{"Left", "mid"}, {"Right", "mid"}}},
			"mid":   {lines: []string{"They meet."}},
		})
	}

	e, _, _, err := runStory(t, diamond(), testLimits())
	require.NoError(t, err)
	assert.Equal(t, 1, e.State().Totals.EndingsCount, "converging paths expand the shared state once")

	limits := testLimits()
	limits.BatchSize = 1
	e, rec, _, err := runStory(t, diamond(), limits)
	require.NoError(t, err)
	assert.Equal(t, 2, e.State().Totals.EndingsCount, "a new epoch forgets visited states")
	assert.Equal(t, 2, e.State().Totals.ChoicesCount)
	for i, s := range rec.snaps {
		assert.Equal(t, i, s.Sequence)
	}
}

func TestRuntimeFaultAbortsOnlyItsFrame(t *testing.T) {
	story := newFakeStory("start", map[string]fakeNode{
		"start":  {lines: []string{"Choose."}, choices: []fakeEdge{{"Safe", "safe"}, {"Broken", "hall"}}},
		"safe":   {lines: []string{"Fine."}},
		"hall":   {lines: []string{"A hall."}, divert: "broken"},
		"broken": {fail: "undefined variable 'key'"},
	})
	e, rec, out, err := runStory(t, story, testLimits())
	require.NoError(t, err)
	assert.Equal(t, Completed, out)

	require.Len(t, rec.faults, 1)
	f := rec.faults[0]
	assert.Equal(t, KindRuntime, f.Kind)
	assert.Equal(t, "hall", f.DecisionPoint)
	assert.Equal(t, []string{"Broken"}, f.Path)
	assert.Equal(t, "Broken", f.LastChoice)
	assert.NotEmpty(t, f.StateBefore)
	assert.NotEmpty(t, f.StateAfter)
	assert.Equal(t, 1, e.State().Totals.EndingsCount)
}

func TestStoryReportedErrorsKeepFrameAlive(t *testing.T) {
	story := newFakeStory("start", map[string]fakeNode{
		"start": {lines: []string{"Hm."}, divert: "odd"},
		"odd":   {lines: []string{"Odd."}, report: "assertion failed: gold >= 0"},
	})
	e, rec, _, err := runStory(t, story, testLimits())
	require.NoError(t, err)
	require.Len(t, rec.faults, 1)
	assert.Equal(t, KindRuntime, rec.faults[0].Kind)
	assert.Equal(t, 1, e.State().Totals.EndingsCount)
}

func TestPanicIsFatalAndFlushed(t *testing.T) {
	story := newFakeStory("start", map[string]fakeNode{
		"start": {lines: []string{"Tick."}, divert: "bomb"},
		"bomb":  {panics: true},
	})
	_, rec, out, err := runStory(t, story, testLimits())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedFault))
	assert.Equal(t, Failed, out)

	final := rec.last()
	require.NotNil(t, final)
	assert.Equal(t, "fatal", final.Reason)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, KindUnexpected, final.Errors[0].Kind)
}

func TestCheckpointFailureStopsRun(t *testing.T) {
	story := twoEndings()
	rec := &recorder{failSave: errors.New("disk full")}
	e, err := New(story, Options{Limits: testLimits(), Observer: rec})
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestMilestoneDeclineStopsRun(t *testing.T) {
	limits := testLimits()
	limits.ContinueInterval = 1
	rec := &recorder{decline: true}
	e, err := New(twoEndings(), Options{Limits: limits, Observer: rec})
	require.NoError(t, err)
	out, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Declined, out)
	assert.Equal(t, 1, rec.prompts)
	assert.Equal(t, "declined", rec.last().Reason)
	assert.NotNil(t, rec.last().Resume, "the unexplored sibling is still pending")
}

func TestMemoryGuardForcesCheckpoint(t *testing.T) {
	limits := testLimits()
	limits.MemoryLimit = 1
	rec := &recorder{}
	e, err := New(twoEndings(), Options{Limits: limits, Observer: rec, HeapInUse: func() uint64 { return 2 }})
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)

	// one memory flush per frame plus the final flush
	require.Len(t, rec.snaps, 4)
	assert.Equal(t, "memory", rec.snaps[0].Reason)
	assert.Equal(t, "completed", rec.snaps[3].Reason)
}

func TestHeapInUseReadsLiveHeap(t *testing.T) {
	keep := make([]byte, 1<<20)
	assert.Greater(t, HeapInUse(), uint64(len(keep)))
	assert.Equal(t, 1, DefaultLimits().MemorySampleEvery, "the memory guard checks after every frame")
	keep[0] = 1
}

func TestStepFlushThreshold(t *testing.T) {
	limits := testLimits()
	limits.StepFlushThreshold = 1
	_, rec, _, err := runStory(t, twoEndings(), limits)
	require.NoError(t, err)
	require.Len(t, rec.snaps, 1, "a maximum equal to the threshold does not flush")

	story := newFakeStory("start", map[string]fakeNode{
		"start": {lines: []string{"Pick a door.", "Quickly."}, choices: []fakeEdge{{"Left", "win"}, {"Right", "lose"}}},
		"win":   {lines: []string{"You won."}},
		"lose":  {lines: []string{"You lost."}},
	})
	_, rec, _, err = runStory(t, story, limits)
	require.NoError(t, err)
	// the two-line root frame flushes, the one-line endings do not
	require.Len(t, rec.snaps, 2)
	assert.Equal(t, "steps", rec.snaps[0].Reason)
	assert.Equal(t, 2, rec.snaps[0].Counters.MaxStepsBetweenChoices)
	assert.Equal(t, 1, rec.last().Counters.MaxStepsBetweenChoices, "running maximum is reset per epoch")
}

func TestRunawayBranchKeepsVisitedSet(t *testing.T) {
	story := newFakeStory("a", map[string]fakeNode{
		"a":    {lines: []string{"Room A."}, choices: []fakeEdge{{"To B", "b"}, {"Spin", "spin"}}},
		"b":    {lines: []string{"Room B."}, choices: []fakeEdge{{"To A", "a"}, {"Spin", "spin"}}},
		"spin": {lines: []string{"Round."}, divert: "spin", bump: true},
	})
	e, rec, out, err := runStory(t, story, testLimits())
	require.NoError(t, err)
	assert.Equal(t, Completed, out)

	require.Len(t, rec.snaps, 1, "step budget faults must not roll the epoch")
	assert.Equal(t, "completed", rec.snaps[0].Reason)
	totals := e.State().Totals
	assert.Equal(t, 0, totals.MaxDepthAborts)
	assert.Equal(t, testLimits().MaxSteps, totals.MaxStepsBetweenChoices)
	assert.Less(t, totals.ChoicesCount, 10)
	require.Len(t, rec.faults, 1)
	assert.Equal(t, KindStepBudget, rec.faults[0].Kind)
}

func TestDuplicateFaultsAreCounted(t *testing.T) {
	story := newFakeStory("start", map[string]fakeNode{
		"start":  {lines: []string{"Two roads."}, choices: []fakeEdge{{"North", "x"}, {"South", "y"}}},
		"x":      {lines: []string{"North road."}, choices: []fakeEdge{{"Go", "trap"}}},
		"y":      {lines: []string{"South road."}, choices: []fakeEdge{{"Go", "trap"}}},
		"trap":   {lines: []string{"A trapdoor."}, divert: "broken"},
		"broken": {fail: "undefined variable 'rope'"},
	})
	e, rec, _, err := runStory(t, story, testLimits())
	require.NoError(t, err)

	require.Len(t, rec.faults, 1)
	assert.Equal(t, "trap", rec.faults[0].DecisionPoint)
	assert.Equal(t, 1, e.State().Totals.SuppressedErrors)
	assert.Equal(t, 1, rec.last().Counters.SuppressedErrors)
}

func TestInterruptThenResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}
	e, err := New(twoEndings(), Options{Limits: testLimits(), Observer: rec})
	require.NoError(t, err)
	out, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Interrupted, out)
	rp := rec.last().Resume
	require.NotNil(t, rp)
	require.Len(t, rp.Frontier, 1)

	raw, err := json.Marshal(rp)
	require.NoError(t, err)
	var restored ResumePoint
	require.NoError(t, json.Unmarshal(raw, &restored))

	rec2 := &recorder{}
	e2, err := New(twoEndings(), Options{Limits: testLimits(), Observer: rec2, Resume: &restored})
	require.NoError(t, err)
	out, err = e2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, out)
	assert.Equal(t, 2, e2.State().Totals.EndingsCount)
	assert.Equal(t, 1, rec2.snaps[0].Sequence)
}

func TestResumeRejectsEmptyFrontier(t *testing.T) {
	_, err := New(twoEndings(), Options{Limits: testLimits(), Resume: &ResumePoint{}})
	assert.ErrorIs(t, err, ErrNothingToResume)
}

func TestInvalidLimits(t *testing.T) {
	limits := testLimits()
	limits.BatchSize = 0
	_, err := New(twoEndings(), Options{Limits: limits})
	assert.Error(t, err)
}
