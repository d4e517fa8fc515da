package corerun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "none", State(0).String())
	assert.Equal(t, "SCHEDULED", Scheduled.String())
	assert.Equal(t, "SCHEDULED|RUNNING", (Scheduled | Running).String())
	assert.Equal(t, "SCHEDULED|RUNNING|COMPLETED|CLOSED|HANDLE", (Scheduled | Running | Completed | Closed | Handle).String())
}

func TestState_Has(t *testing.T) {
	s := Scheduled | Handle
	assert.True(t, s.has(Scheduled))
	assert.True(t, s.has(Handle))
	assert.False(t, s.has(Running))
}

func TestAtomicState_LoadStore(t *testing.T) {
	var a atomicState
	a.store(Scheduled | Handle)
	assert.Equal(t, Scheduled|Handle, a.load())
}

func TestAtomicState_CAS(t *testing.T) {
	var a atomicState
	a.store(Scheduled)
	require.True(t, a.cas(Scheduled, Running))
	assert.Equal(t, Running, a.load())
	require.False(t, a.cas(Scheduled, Completed), "cas from stale value must fail")
	assert.Equal(t, Running, a.load())
}

func TestAtomicState_Or(t *testing.T) {
	var a atomicState
	a.store(Scheduled)
	pre := a.or(Running)
	assert.Equal(t, Scheduled, pre)
	assert.Equal(t, Scheduled|Running, a.load())
}

func TestAtomicState_AndNot(t *testing.T) {
	var a atomicState
	a.store(Scheduled | Running)
	pre := a.andNot(Scheduled)
	assert.Equal(t, Scheduled|Running, pre)
	assert.Equal(t, Running, a.load())
}

func TestAtomicState_Update(t *testing.T) {
	var a atomicState
	a.store(Scheduled)
	pre := a.update(func(s State) State { return (s | Running) &^ Scheduled })
	assert.Equal(t, Scheduled, pre)
	assert.Equal(t, Running, a.load())
}
