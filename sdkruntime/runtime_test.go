package sdkruntime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantripos/cantripos"
)

type fakeTimers struct {
	fired   map[TimerID]bool
	pending uint32
}

func newFakeTimers() *fakeTimers { return &fakeTimers{fired: map[TimerID]bool{}} }

func (f *fakeTimers) Oneshot(id TimerID, durationMs uint32) error  { return nil }
func (f *fakeTimers) Periodic(id TimerID, durationMs uint32) error { return nil }
func (f *fakeTimers) Cancel(id TimerID) error                      { return nil }
func (f *fakeTimers) Wait() (uint32, error)                        { return f.pending, nil }
func (f *fakeTimers) Poll() (uint32, error)                        { return f.pending, nil }

func (f *fakeTimers) fire(id TimerID) { f.pending |= 1 << id }

type fakeML struct {
	output  map[string][]byte
	periods map[string]uint32
	inputs  map[string][]byte
}

func newFakeML() *fakeML {
	return &fakeML{
		output:  map[string][]byte{},
		periods: map[string]uint32{},
		inputs:  map[string][]byte{},
	}
}

func (f *fakeML) Oneshot(appID, modelName string) error { return nil }
func (f *fakeML) Periodic(appID, modelName string, durationMs uint32) error {
	f.periods[appID+"/"+modelName] = durationMs
	return nil
}
func (f *fakeML) Cancel(appID, modelName string) error { return nil }
func (f *fakeML) Wait() (uint32, error)                { return 0, nil }
func (f *fakeML) Poll() (uint32, error)                { return 0, nil }
func (f *fakeML) Output(appID, modelName string) ([]byte, error) {
	return f.output[appID+"/"+modelName], nil
}
func (f *fakeML) InputParams(appID, modelName string) (ModelInput, error) {
	return ModelInput{InputPtr: 0x1000, InputSizeBytes: 256}, nil
}
func (f *fakeML) SetInput(appID, modelName string, offset uint32, data []byte) error {
	f.inputs[appID+"/"+modelName] = data
	return nil
}

type fakeKV struct {
	values map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{values: map[string][]byte{}} }

func (f *fakeKV) Read(appID, key string) ([]byte, error) { return f.values[appID+"/"+key], nil }
func (f *fakeKV) Write(appID, key string, value []byte) error {
	f.values[appID+"/"+key] = value
	return nil
}
func (f *fakeKV) Delete(appID, key string) error {
	delete(f.values, appID+"/"+key)
	return nil
}

func TestGetEndpointAndPing(t *testing.T) {
	rt := New(nil, nil, nil, nil, nil)
	badge, err := rt.GetEndpoint("app1")
	require.NoError(t, err)
	require.NoError(t, rt.Ping(badge))
	assert.Equal(t, 1, rt.NumApps())
}

func TestPingUnknownBadge(t *testing.T) {
	rt := New(nil, nil, nil, nil, nil)
	err := rt.Ping(AppID(0xdeadbeef))
	assert.True(t, cantripos.IsCode(err, cantripos.ErrCodeInvalidBadge))
}

func TestReleaseEndpointUnregisters(t *testing.T) {
	rt := New(nil, nil, nil, nil, nil)
	badge, err := rt.GetEndpoint("app1")
	require.NoError(t, err)
	require.NoError(t, rt.ReleaseEndpoint(badge))
	assert.Equal(t, 0, rt.NumApps())
	assert.True(t, cantripos.IsCode(rt.Ping(badge), cantripos.ErrCodeInvalidBadge))
}

func TestTimerOneshotLifecycle(t *testing.T) {
	timers := newFakeTimers()
	rt := New(timers, nil, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")

	require.NoError(t, rt.TimerOneshot(badge, 0, 1000))

	mask, err := rt.TimerPoll(badge)
	require.NoError(t, err)
	assert.Zero(t, mask, "should not be pending before firing")

	timers.fire(0) // runtime id 0, first allocated
	mask, err = rt.TimerPoll(badge)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), mask, "app-local timer 0 should be reported")

	// A one-shot timer is released after firing; cancel should now fail.
	err = rt.TimerCancel(badge, 0)
	assert.True(t, cantripos.IsCode(err, cantripos.ErrCodeInvalidTimer))
}

func TestTimerPeriodicSurvivesFire(t *testing.T) {
	timers := newFakeTimers()
	rt := New(timers, nil, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")

	require.NoError(t, rt.TimerPeriodic(badge, 2, 500))
	timers.fire(0)

	mask, err := rt.TimerPoll(badge)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<2), mask)

	// Periodic timers remain active after firing.
	require.NoError(t, rt.TimerCancel(badge, 2))
}

func TestTimerOneshotWithoutPlatformSupport(t *testing.T) {
	rt := New(nil, nil, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")
	err := rt.TimerOneshot(badge, 0, 1000)
	assert.True(t, cantripos.IsCode(err, cantripos.ErrCodeNoPlatformSupport))
}

func TestTimerIDOutOfRange(t *testing.T) {
	timers := newFakeTimers()
	rt := New(timers, nil, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")
	err := rt.TimerOneshot(badge, modelID, 1000)
	assert.True(t, cantripos.IsCode(err, cantripos.ErrCodeNoSuchTimer))
}

func TestModelOneshotAndOutput(t *testing.T) {
	ml := newFakeML()
	ml.output["app1/digits"] = []byte{1, 2, 3}
	rt := New(nil, ml, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")

	id, err := rt.ModelOneshot(badge, "digits")
	require.NoError(t, err)

	out, err := rt.ModelOutput(badge, id)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, out)
}

func TestModelOutputWithoutOutput(t *testing.T) {
	ml := newFakeML()
	rt := New(nil, ml, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")
	id, err := rt.ModelOneshot(badge, "digits")
	require.NoError(t, err)

	_, err = rt.ModelOutput(badge, id)
	assert.True(t, cantripos.IsCode(err, cantripos.ErrCodeNoModelOutput))
}

func TestModelPeriodicRunsPeriodically(t *testing.T) {
	ml := newFakeML()
	rt := New(nil, ml, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")

	id, err := rt.ModelPeriodic(badge, "digits", 250)
	require.NoError(t, err)
	assert.Equal(t, modelID, id)
	assert.Equal(t, uint32(250), ml.periods["app1/digits"])
}

func TestGetModelInputParamsParksModelIdle(t *testing.T) {
	ml := newFakeML()
	rt := New(nil, ml, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")

	id, params, err := rt.GetModelInputParams(badge, "digits")
	require.NoError(t, err)
	assert.Equal(t, modelID, id)
	assert.Equal(t, ModelInput{InputPtr: 0x1000, InputSizeBytes: 256}, params)

	require.NoError(t, rt.SetModelInput(badge, id, 0, []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, ml.inputs["app1/digits"])
}

func TestSetModelInputRejectsRunningModel(t *testing.T) {
	ml := newFakeML()
	rt := New(nil, ml, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")

	id, err := rt.ModelOneshot(badge, "digits")
	require.NoError(t, err)

	err = rt.SetModelInput(badge, id, 0, []byte{1})
	assert.True(t, cantripos.IsCode(err, cantripos.ErrCodeNoSuchModel))
}

func TestTimerOneshotRejectsAlreadyMappedLocalID(t *testing.T) {
	timers := newFakeTimers()
	rt := New(timers, nil, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")

	require.NoError(t, rt.TimerOneshot(badge, 0, 1000))
	err := rt.TimerOneshot(badge, 0, 1000)
	assert.True(t, cantripos.IsCode(err, cantripos.ErrCodeTimerAlreadyExists))

	// The original mapping must still be intact: cancel should succeed.
	require.NoError(t, rt.TimerCancel(badge, 0))
}

func TestTimerPeriodicRejectsAlreadyMappedLocalID(t *testing.T) {
	timers := newFakeTimers()
	rt := New(timers, nil, nil, nil, nil)
	badge, _ := rt.GetEndpoint("app1")

	require.NoError(t, rt.TimerPeriodic(badge, 1, 500))
	err := rt.TimerPeriodic(badge, 1, 500)
	assert.True(t, cantripos.IsCode(err, cantripos.ErrCodeTimerAlreadyExists))
}

func TestKeyValueRoundTrip(t *testing.T) {
	kv := newFakeKV()
	rt := New(nil, nil, kv, nil, nil)
	badge, _ := rt.GetEndpoint("app1")

	require.NoError(t, rt.WriteKey(badge, "secret", []byte("value")))
	val, err := rt.ReadKey(badge, "secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), val)

	require.NoError(t, rt.DeleteKey(badge, "secret"))
	val, err = rt.ReadKey(badge, "secret")
	require.NoError(t, err)
	assert.Empty(t, val)
}
