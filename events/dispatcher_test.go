package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchInvokesHandlersInRegistrationOrder(t *testing.T) {
	d := NewDispatcher()

	var calls []string
	d.Register(SubmissionSaved, func(Signal) error {
		calls = append(calls, "first")
		return nil
	})
	d.Register(CommentSaved, func(Signal) error {
		calls = append(calls, "unrelated")
		return nil
	})
	d.Register(SubmissionSaved, func(Signal) error {
		calls = append(calls, "second")
		return nil
	})

	require.NoError(t, d.Dispatch(Signal{Type: SubmissionSaved, EventID: 1}))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestDispatchRunsAllHandlersDespiteFailures(t *testing.T) {
	d := NewDispatcher()

	firstErr := errors.New("first handler broke")
	secondRan := false

	d.Register(MailOutgoing, func(Signal) error { return firstErr })
	d.Register(MailOutgoing, func(Signal) error {
		secondRan = true
		return nil
	})

	err := d.Dispatch(Signal{Type: MailOutgoing, EventID: 1})
	assert.ErrorIs(t, err, firstErr)
	assert.True(t, secondRan)
}

func TestDispatchJoinsMultipleErrors(t *testing.T) {
	d := NewDispatcher()

	errA := errors.New("a")
	errB := errors.New("b")
	d.Register(SubmissionStateChanged, func(Signal) error { return errA })
	d.Register(SubmissionStateChanged, func(Signal) error { return errB })

	err := d.Dispatch(Signal{Type: SubmissionStateChanged})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestDispatchWithoutHandlersIsNoop(t *testing.T) {
	d := NewDispatcher()
	assert.NoError(t, d.Dispatch(Signal{Type: SubmissionFormRender, EventID: 1}))
}
