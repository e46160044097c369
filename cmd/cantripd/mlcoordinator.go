package main

import (
	"sync"
	"time"

	"github.com/cantripos/cantripos"
	"github.com/cantripos/cantripos/sdkruntime"
)

// demoMLCoordinator is a stand-in for the ML accelerator component: it has
// no real model execution hardware to drive, so Oneshot jobs "complete"
// after a short fixed delay and Periodic jobs every durationMs, each
// producing a constant placeholder output, just enough to exercise the SDK Runtime's ML dispatch path
// end to end without a real coordinator process on the other side of it.
type demoMLCoordinator struct {
	mu      sync.Mutex
	outputs map[string][]byte
	loaded  map[string]bool
	pending chan struct{}
}

func newDemoMLCoordinator() *demoMLCoordinator {
	return &demoMLCoordinator{
		outputs: make(map[string][]byte),
		loaded:  make(map[string]bool),
		pending: make(chan struct{}, 1),
	}
}

func mlKey(appID, modelName string) string { return appID + "/" + modelName }

func (m *demoMLCoordinator) complete(appID, modelName string) {
	m.mu.Lock()
	m.outputs[mlKey(appID, modelName)] = []byte{0x01}
	m.mu.Unlock()
	select {
	case m.pending <- struct{}{}:
	default:
	}
}

func (m *demoMLCoordinator) Oneshot(appID, modelName string) error {
	time.AfterFunc(10*time.Millisecond, func() { m.complete(appID, modelName) })
	return nil
}

func (m *demoMLCoordinator) Periodic(appID, modelName string, durationMs uint32) error {
	var tick func()
	tick = func() {
		m.complete(appID, modelName)
		time.AfterFunc(time.Duration(durationMs)*time.Millisecond, tick)
	}
	time.AfterFunc(time.Duration(durationMs)*time.Millisecond, tick)
	return nil
}

func (m *demoMLCoordinator) Cancel(appID, modelName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outputs, mlKey(appID, modelName))
	return nil
}

func (m *demoMLCoordinator) Wait() (uint32, error) {
	<-m.pending
	return 1 << 31, nil
}

func (m *demoMLCoordinator) Poll() (uint32, error) {
	select {
	case <-m.pending:
		return 1 << 31, nil
	default:
		return 0, nil
	}
}

func (m *demoMLCoordinator) Output(appID, modelName string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outputs[mlKey(appID, modelName)]
	if !ok {
		return nil, cantripos.NewError("demoMLCoordinator.Output", cantripos.ErrCodeNoModelOutput, "model has not completed")
	}
	return out, nil
}

// InputParams fakes loading modelName: it has no real accelerator memory map
// to report, so it hands back a fixed placeholder buffer description.
func (m *demoMLCoordinator) InputParams(appID, modelName string) (sdkruntime.ModelInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded[mlKey(appID, modelName)] = true
	return sdkruntime.ModelInput{InputPtr: 0, InputSizeBytes: 4096}, nil
}

func (m *demoMLCoordinator) SetInput(appID, modelName string, offset uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded[mlKey(appID, modelName)] {
		return cantripos.NewError("demoMLCoordinator.SetInput", cantripos.ErrCodeNoSuchModel, "model not loaded")
	}
	return nil
}

var _ sdkruntime.MLCoordinator = (*demoMLCoordinator)(nil)
