package execstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentlink/internal/domain"
)

func req(id string) domain.QuestionRequest {
	return domain.QuestionRequest{
		RequestID: id,
		Question:  domain.Question{Type: domain.QuestionText, Label: id},
	}
}

func strPtr(s string) *string { return &s }

func TestViewBeforeFirstSnapshot(t *testing.T) {
	tr := NewTracker(nil)
	v := tr.View()
	assert.False(t, v.Received)
	assert.Nil(t, v.WaitingOn)
	assert.Zero(t, v.Pending)
}

func TestApplyIsLastWriteWins(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(domain.ExecutionState{Idle: false, BusyWith: strPtr("compiling"), StatusLine: strPtr("3/10")})
	tr.Apply(domain.ExecutionState{Idle: true})

	v := tr.View()
	assert.True(t, v.Received)
	assert.True(t, v.Idle)
	assert.Nil(t, v.BusyWith)
	assert.Nil(t, v.StatusLine)
	assert.Nil(t, v.WaitingOn)
}

func TestWaitingOnIsFirstPendingQuestion(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q1"), req("q2")}})

	v := tr.View()
	require.NotNil(t, v.WaitingOn)
	assert.Equal(t, "q1", v.WaitingOn.RequestID)
	assert.Equal(t, 2, v.Pending)
}

func TestSurfacedQuestionStableAcrossReorder(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q1")}})
	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q2"), req("q1")}})

	v := tr.View()
	require.NotNil(t, v.WaitingOn)
	assert.Equal(t, "q1", v.WaitingOn.RequestID)

	queue := tr.Queue()
	require.Len(t, queue, 2)
	assert.Equal(t, "q2", queue[1].RequestID)

	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q3"), req("q2")}})
	ids := []string{}
	for _, q := range tr.Queue() {
		ids = append(ids, q.RequestID)
	}
	assert.Equal(t, []string{"q2", "q3"}, ids)
}

func TestDismissSkipsUntilServerDropsQuestion(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q1"), req("q2")}})

	tr.Dismiss("q1")
	v := tr.View()
	require.NotNil(t, v.WaitingOn)
	assert.Equal(t, "q2", v.WaitingOn.RequestID)
	assert.Equal(t, 1, v.Pending)

	// still listed by the server: stays hidden
	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q1"), req("q2")}})
	assert.Equal(t, "q2", tr.View().WaitingOn.RequestID)

	// dropped then re-listed under the same id: surfaced again
	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q2")}})
	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q2"), req("q1")}})
	assert.Equal(t, 2, tr.View().Pending)
}

func TestDismissUnknownIsNoop(t *testing.T) {
	tr := NewTracker(nil)
	calls := 0
	tr.AddObserver(func(View) { calls++ })
	tr.Dismiss("nope")
	assert.Zero(t, calls)
}

func TestDuplicateRequestIDsCollapse(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q1"), req("q1")}})
	assert.Equal(t, 1, tr.View().Pending)
}

func TestObserversReceiveViews(t *testing.T) {
	tr := NewTracker(nil)
	var views []View
	remove := tr.AddObserver(func(v View) { views = append(views, v) })

	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q1")}})
	tr.Dismiss("q1")
	remove()
	tr.Apply(domain.ExecutionState{Idle: true})

	require.Len(t, views, 2)
	assert.Equal(t, 1, views[0].Pending)
	assert.Nil(t, views[1].WaitingOn)
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(domain.ExecutionState{WaitingOn: []domain.QuestionRequest{req("q1")}})
	snap := tr.Snapshot()
	snap.WaitingOn[0].RequestID = "changed"
	assert.Equal(t, "q1", tr.Snapshot().WaitingOn[0].RequestID)
}
