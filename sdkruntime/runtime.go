// Package sdkruntime implements the single-threaded SDK Runtime that
// multiplexes per-application timer and ML requests over badged seL4
// endpoints, brokering them out to the TimerService, MLCoordinator, audio
// driver and mailbox key-value store.
package sdkruntime

import (
	"hash/maphash"

	"github.com/cantripos/cantripos"
	"github.com/cantripos/cantripos/internal/constants"
	"github.com/cantripos/cantripos/internal/logging"
)

// AppID identifies a client across its lifetime; it is the badge value
// minted into the client's endpoint capability.
type AppID uint32

// TimerID is an application-local timer identifier in [0, MaxAppLocalTimers].
type TimerID uint8

// ModelID identifies a loaded ML model; only one may be active at a time so
// it is fixed at modelID.
const modelID = TimerID(constants.MaxAppLocalTimers)

// TimerService abstracts the system timer multiplexer.
type TimerService interface {
	Oneshot(id TimerID, durationMs uint32) error
	Periodic(id TimerID, durationMs uint32) error
	Cancel(id TimerID) error
	Wait() (mask uint32, err error)
	Poll() (mask uint32, err error)
}

// MLCoordinator abstracts the ML job scheduler.
type MLCoordinator interface {
	Oneshot(appID, modelName string) error
	Periodic(appID, modelName string, durationMs uint32) error
	Cancel(appID, modelName string) error
	Wait() (mask uint32, err error)
	Poll() (mask uint32, err error)
	Output(appID, modelName string) ([]byte, error)
	// InputParams loads modelName (if not already loaded) and returns where
	// its input buffer lives, the way a real accelerator reports the memory
	// region a client should write samples into before running the model.
	InputParams(appID, modelName string) (ModelInput, error)
	// SetInput writes input_data at input_data_offset into modelName's input
	// buffer. Callers must have fetched InputParams first.
	SetInput(appID, modelName string, offset uint32, data []byte) error
}

// ModelInput describes a loaded model's input buffer.
type ModelInput struct {
	InputPtr       uint32
	InputSizeBytes uint32
}

// KeyValueStore abstracts the per-application private key-value store
// brokered through the Security Coordinator mailbox proxy.
type KeyValueStore interface {
	Read(appID, key string) ([]byte, error)
	Write(appID, key string, value []byte) error
	Delete(appID, key string) error
}

// AudioDriver abstracts the I2S audio ring buffers.
type AudioDriver interface {
	Reset(rxReset, txReset bool, rxWatermark, txWatermark uint8) error
	RecordStart(rate, bufferSize int, stopOnFull bool) error
	RecordCollect(max int, waitIfEmpty bool) ([]byte, error)
	RecordStop() error
	PlayStart(rate, bufferSize int) error
	PlayWrite(data []byte) error
	PlayStop() error
}

// timerState tracks one application-local timer slot.
type timerState struct {
	active    bool
	periodic  bool
	runtimeID TimerID
}

type audioRecordState int

const (
	audioRecordIdle audioRecordState = iota
	audioRecording
)

type audioPlayState int

const (
	audioPlayIdle audioPlayState = iota
	audioPlaying
)

type modelState int

const (
	modelNone modelState = iota
	modelIdle
	modelOneshot
	modelPeriodic
)

// appState is the per-application bookkeeping the Runtime keeps to
// multiplex the shared timer id space and the single ML model slot.
type appState struct {
	appID       string
	timers      [constants.MaxAppLocalTimers + 1]timerState
	timerMask   uint32 // bitmask of runtime timer ids owned by this app
	model       modelState
	modelName   string
	audioRecord audioRecordState
	audioPlay   audioPlayState
}

// Runtime is the SDK Runtime: a single goroutine's worth of state (no
// internal locking) serving badged requests from every running application.
// Callers must serialize calls the same way a per-queue request dispatcher
// owns its tag table from one goroutine.
type Runtime struct {
	endpointBadgeSeed maphash.Seed
	apps              map[AppID]*appState
	runtimeIDs        uint32 // bitmask of allocated runtime timer/model ids
	pendingMask       uint32 // undelivered timer completions

	timers  TimerService
	ml      MLCoordinator
	kv      KeyValueStore
	audio   AudioDriver
	logger  *logging.Logger
}

// New creates a Runtime. Any of timers/ml/kv/audio may be nil, in which case
// the corresponding requests fail with ErrCodeNoPlatformSupport, mirroring
// the original's cfg_if feature gates.
func New(timers TimerService, ml MLCoordinator, kv KeyValueStore, audio AudioDriver, logger *logging.Logger) *Runtime {
	return &Runtime{
		endpointBadgeSeed: maphash.MakeSeed(),
		apps:              make(map[AppID]*appState),
		timers:            timers,
		ml:                ml,
		kv:                kv,
		audio:             audio,
		logger:            logger,
	}
}

// calculateBadge derives a stable badge for appID. Badges need not be
// secret or randomized: a client cannot forge a capability to another
// app's endpoint regardless of how predictable the badge value is.
func (r *Runtime) calculateBadge(appID string) AppID {
	var h maphash.Hash
	h.SetSeed(r.endpointBadgeSeed)
	h.WriteString(appID)
	return AppID(uint32(h.Sum64()))
}

// GetEndpoint registers appID and returns the badge to mint into its
// endpoint capability. Every subsequent request arrives badged with this
// value.
func (r *Runtime) GetEndpoint(appID string) (AppID, error) {
	badge := r.calculateBadge(appID)
	if _, exists := r.apps[badge]; exists {
		return 0, cantripos.NewError("sdkruntime.GetEndpoint", cantripos.ErrCodeInvalidBadge, "badge collision")
	}
	r.apps[badge] = &appState{appID: appID}
	return badge, nil
}

// ReleaseEndpoint tears down all state associated with badge: cancels
// active timers, cancels any running model, and resets the audio driver.
func (r *Runtime) ReleaseEndpoint(badge AppID) error {
	app, ok := r.apps[badge]
	if !ok {
		if r.logger != nil {
			r.logger.Debug("release of nonexistent endpoint", "badge", badge)
		}
		return nil
	}

	if app.model != modelNone && r.ml != nil {
		_ = r.ml.Cancel(app.appID, app.modelName)
		r.runtimeIDs &^= 1 << modelID
	}
	if r.timers != nil {
		for id := TimerID(0); id < TimerID(len(app.timers)); id++ {
			if app.timers[id].active {
				_ = r.timers.Cancel(app.timers[id].runtimeID)
				r.releaseRuntimeID(app.timers[id].runtimeID)
			}
		}
	}
	if r.audio != nil {
		_ = r.audio.Reset(true, true, 1, 1)
	}

	delete(r.apps, badge)
	return nil
}

func (r *Runtime) getApp(badge AppID) (*appState, error) {
	app, ok := r.apps[badge]
	if !ok {
		return nil, cantripos.NewError("sdkruntime", cantripos.ErrCodeInvalidBadge, "no such application")
	}
	return app, nil
}

func (r *Runtime) allocRuntimeID() (TimerID, bool) {
	for id := TimerID(0); id < modelID; id++ {
		if r.runtimeIDs&(1<<id) == 0 {
			r.runtimeIDs |= 1 << id
			return id, true
		}
	}
	return 0, false
}

func (r *Runtime) releaseRuntimeID(id TimerID) {
	r.runtimeIDs &^= 1 << id
	r.pendingMask &^= 1 << id
}

// Ping verifies badge is a live application. Used by clients as a liveness
// check before issuing real requests.
func (r *Runtime) Ping(badge AppID) error {
	_, err := r.getApp(badge)
	return err
}

// TimerOneshot starts a one-shot timer at application-local id, firing
// after durationMs.
func (r *Runtime) TimerOneshot(badge AppID, id TimerID, durationMs uint32) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if id > modelID-1 {
		return cantripos.NewError("sdkruntime.TimerOneshot", cantripos.ErrCodeNoSuchTimer, "timer id out of range")
	}
	if r.timers == nil {
		return cantripos.NewError("sdkruntime.TimerOneshot", cantripos.ErrCodeNoPlatformSupport, "")
	}
	if app.timers[id].active {
		return cantripos.NewError("sdkruntime.TimerOneshot", cantripos.ErrCodeTimerAlreadyExists, "local timer id already mapped")
	}
	runtimeID, ok := r.allocRuntimeID()
	if !ok {
		return cantripos.NewError("sdkruntime.TimerOneshot", cantripos.ErrCodeOutOfResources, "timer id space exhausted")
	}
	if err := r.timers.Oneshot(runtimeID, durationMs); err != nil {
		r.releaseRuntimeID(runtimeID)
		return err
	}
	app.timers[id] = timerState{active: true, runtimeID: runtimeID}
	app.timerMask |= 1 << runtimeID
	return nil
}

// TimerPeriodic starts a recurring timer at application-local id.
func (r *Runtime) TimerPeriodic(badge AppID, id TimerID, durationMs uint32) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if id > modelID-1 {
		return cantripos.NewError("sdkruntime.TimerPeriodic", cantripos.ErrCodeNoSuchTimer, "timer id out of range")
	}
	if r.timers == nil {
		return cantripos.NewError("sdkruntime.TimerPeriodic", cantripos.ErrCodeNoPlatformSupport, "")
	}
	if app.timers[id].active {
		return cantripos.NewError("sdkruntime.TimerPeriodic", cantripos.ErrCodeTimerAlreadyExists, "local timer id already mapped")
	}
	runtimeID, ok := r.allocRuntimeID()
	if !ok {
		return cantripos.NewError("sdkruntime.TimerPeriodic", cantripos.ErrCodeOutOfResources, "timer id space exhausted")
	}
	if err := r.timers.Periodic(runtimeID, durationMs); err != nil {
		r.releaseRuntimeID(runtimeID)
		return err
	}
	app.timers[id] = timerState{active: true, periodic: true, runtimeID: runtimeID}
	app.timerMask |= 1 << runtimeID
	return nil
}

// TimerCancel cancels application-local timer id.
func (r *Runtime) TimerCancel(badge AppID, id TimerID) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if id > modelID-1 || !app.timers[id].active {
		return cantripos.NewError("sdkruntime.TimerCancel", cantripos.ErrCodeInvalidTimer, "")
	}
	runtimeID := app.timers[id].runtimeID
	if r.timers != nil {
		_ = r.timers.Cancel(runtimeID)
	}
	app.timers[id] = timerState{}
	app.timerMask &^= 1 << runtimeID
	r.releaseRuntimeID(runtimeID)
	return nil
}

// processCompletedTimers converts a runtime-id mask into the requesting
// app's local-id mask, releasing any one-shot timers it contains.
func (r *Runtime) processCompletedTimers(app *appState, runtimeMask uint32) uint32 {
	var appMask uint32
	for id := TimerID(0); id < TimerID(len(app.timers)); id++ {
		ts := app.timers[id]
		if !ts.active {
			continue
		}
		if runtimeMask&(1<<ts.runtimeID) == 0 {
			continue
		}
		appMask |= 1 << id
		runtimeMask &^= 1 << ts.runtimeID
		if !ts.periodic {
			app.timers[id] = timerState{}
			app.timerMask &^= 1 << ts.runtimeID
			r.releaseRuntimeID(ts.runtimeID)
		}
		if runtimeMask == 0 {
			break
		}
	}
	return appMask
}

// TimerPoll returns the mask of application-local timers that have already
// fired, without blocking.
func (r *Runtime) TimerPoll(badge AppID) (uint32, error) {
	app, err := r.getApp(badge)
	if err != nil {
		return 0, err
	}
	if app.timerMask == 0 {
		return 0, nil
	}
	if r.pendingMask&app.timerMask == 0 && r.timers != nil {
		mask, err := r.timers.Poll()
		if err != nil {
			return 0, err
		}
		r.pendingMask |= mask
	}
	ret := app.timerMask & r.pendingMask
	r.pendingMask &^= ret
	if ret != 0 {
		ret = r.processCompletedTimers(app, ret)
	}
	return ret, nil
}

// TimerWait blocks (via the TimerService's own blocking Wait) until at
// least one of badge's timers has fired, then returns its local-id mask.
func (r *Runtime) TimerWait(badge AppID) (uint32, error) {
	for {
		app, err := r.getApp(badge)
		if err != nil {
			return 0, err
		}
		ret := app.timerMask
		if ret == 0 {
			return 0, nil
		}
		if r.pendingMask&ret == 0 {
			if r.timers == nil {
				return 0, cantripos.NewError("sdkruntime.TimerWait", cantripos.ErrCodeNoPlatformSupport, "")
			}
			mask, err := r.timers.Wait()
			if err != nil {
				return 0, err
			}
			r.pendingMask |= mask
		}
		ret &= r.pendingMask
		r.pendingMask &^= ret
		if ret != 0 {
			return r.processCompletedTimers(app, ret), nil
		}
	}
}

// ModelOneshot loads and runs modelName once, returning the fixed model id.
func (r *Runtime) ModelOneshot(badge AppID, modelName string) (TimerID, error) {
	app, err := r.getApp(badge)
	if err != nil {
		return 0, err
	}
	if r.ml == nil {
		return 0, cantripos.NewError("sdkruntime.ModelOneshot", cantripos.ErrCodeNoPlatformSupport, "")
	}
	if err := r.ml.Oneshot(app.appID, modelName); err != nil {
		return 0, err
	}
	app.model = modelOneshot
	app.modelName = modelName
	return modelID, nil
}

// ModelPeriodic loads and repeatedly runs modelName every durationMs,
// returning the fixed model id.
func (r *Runtime) ModelPeriodic(badge AppID, modelName string, durationMs uint32) (TimerID, error) {
	app, err := r.getApp(badge)
	if err != nil {
		return 0, err
	}
	if r.ml == nil {
		return 0, cantripos.NewError("sdkruntime.ModelPeriodic", cantripos.ErrCodeNoPlatformSupport, "")
	}
	if err := r.ml.Periodic(app.appID, modelName, durationMs); err != nil {
		return 0, err
	}
	app.model = modelPeriodic
	app.modelName = modelName
	return modelID, nil
}

// GetModelInputParams loads modelName and returns where its input buffer
// lives. A successful call parks the app in modelIdle, so a subsequent
// ModelOneshot/ModelPeriodic call on the same model can skip reloading it.
func (r *Runtime) GetModelInputParams(badge AppID, modelName string) (TimerID, ModelInput, error) {
	app, err := r.getApp(badge)
	if err != nil {
		return 0, ModelInput{}, err
	}
	if r.ml == nil {
		return 0, ModelInput{}, cantripos.NewError("sdkruntime.GetModelInputParams", cantripos.ErrCodeNoPlatformSupport, "")
	}
	input, err := r.ml.InputParams(app.appID, modelName)
	if err != nil {
		return 0, ModelInput{}, err
	}
	app.model = modelIdle
	app.modelName = modelName
	return modelID, input, nil
}

// SetModelInput writes data at offset into the loaded model's input buffer.
// The model must be idle (its input params already fetched); a model that is
// still running rejects writes to a buffer it may be reading concurrently.
func (r *Runtime) SetModelInput(badge AppID, id TimerID, offset uint32, data []byte) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if id != modelID || app.model != modelIdle {
		return cantripos.NewError("sdkruntime.SetModelInput", cantripos.ErrCodeNoSuchModel, "")
	}
	if r.ml == nil {
		return cantripos.NewError("sdkruntime.SetModelInput", cantripos.ErrCodeNoPlatformSupport, "")
	}
	return r.ml.SetInput(app.appID, app.modelName, offset, data)
}

// ModelCancel stops the currently loaded model.
func (r *Runtime) ModelCancel(badge AppID, id TimerID) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if id != modelID {
		return cantripos.NewError("sdkruntime.ModelCancel", cantripos.ErrCodeNoSuchModel, "")
	}
	if app.model == modelNone {
		return nil
	}
	if r.ml != nil {
		if err := r.ml.Cancel(app.appID, app.modelName); err != nil {
			return err
		}
	}
	app.model = modelNone
	return nil
}

// ModelOutput fetches the most recent output from the loaded model.
func (r *Runtime) ModelOutput(badge AppID, id TimerID) ([]byte, error) {
	app, err := r.getApp(badge)
	if err != nil {
		return nil, err
	}
	if id != modelID || app.model == modelNone {
		return nil, cantripos.NewError("sdkruntime.ModelOutput", cantripos.ErrCodeNoSuchModel, "")
	}
	if r.ml == nil {
		return nil, cantripos.NewError("sdkruntime.ModelOutput", cantripos.ErrCodeNoPlatformSupport, "")
	}
	out, err := r.ml.Output(app.appID, app.modelName)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, cantripos.NewError("sdkruntime.ModelOutput", cantripos.ErrCodeNoModelOutput, "")
	}
	return out, nil
}

// ReadKey reads a value from badge's private key-value store.
func (r *Runtime) ReadKey(badge AppID, key string) ([]byte, error) {
	app, err := r.getApp(badge)
	if err != nil {
		return nil, err
	}
	if r.kv == nil {
		return nil, cantripos.NewError("sdkruntime.ReadKey", cantripos.ErrCodeNoPlatformSupport, "")
	}
	return r.kv.Read(app.appID, key)
}

// WriteKey writes a value into badge's private key-value store.
func (r *Runtime) WriteKey(badge AppID, key string, value []byte) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if r.kv == nil {
		return cantripos.NewError("sdkruntime.WriteKey", cantripos.ErrCodeNoPlatformSupport, "")
	}
	return r.kv.Write(app.appID, key, value)
}

// DeleteKey removes a key from badge's private key-value store.
func (r *Runtime) DeleteKey(badge AppID, key string) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if r.kv == nil {
		return cantripos.NewError("sdkruntime.DeleteKey", cantripos.ErrCodeNoPlatformSupport, "")
	}
	return r.kv.Delete(app.appID, key)
}

// AudioRecordStart begins recording for badge at the given sample rate.
func (r *Runtime) AudioRecordStart(badge AppID, rate, bufferSize int, stopOnFull bool) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if r.audio == nil {
		return cantripos.NewError("sdkruntime.AudioRecordStart", cantripos.ErrCodeNoPlatformSupport, "")
	}
	if err := r.audio.RecordStart(rate, bufferSize, stopOnFull); err != nil {
		return err
	}
	app.audioRecord = audioRecording
	return nil
}

// AudioRecordCollect drains recorded samples for badge.
func (r *Runtime) AudioRecordCollect(badge AppID, maxData int, waitIfEmpty bool) ([]byte, error) {
	app, err := r.getApp(badge)
	if err != nil {
		return nil, err
	}
	if app.audioRecord != audioRecording {
		return nil, cantripos.NewError("sdkruntime.AudioRecordCollect", cantripos.ErrCodeInvalidAudioState, "")
	}
	return r.audio.RecordCollect(maxData, waitIfEmpty)
}

// AudioRecordStop stops recording for badge.
func (r *Runtime) AudioRecordStop(badge AppID) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if r.audio == nil {
		return cantripos.NewError("sdkruntime.AudioRecordStop", cantripos.ErrCodeNoPlatformSupport, "")
	}
	if err := r.audio.RecordStop(); err != nil {
		return err
	}
	app.audioRecord = audioRecordIdle
	return nil
}

// AudioPlayStart begins playback for badge.
func (r *Runtime) AudioPlayStart(badge AppID, rate, bufferSize int) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if r.audio == nil {
		return cantripos.NewError("sdkruntime.AudioPlayStart", cantripos.ErrCodeNoPlatformSupport, "")
	}
	if err := r.audio.PlayStart(rate, bufferSize); err != nil {
		return err
	}
	app.audioPlay = audioPlaying
	return nil
}

// AudioPlayWrite enqueues playback samples for badge.
func (r *Runtime) AudioPlayWrite(badge AppID, data []byte) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if app.audioPlay != audioPlaying {
		return cantripos.NewError("sdkruntime.AudioPlayWrite", cantripos.ErrCodeInvalidAudioState, "")
	}
	return r.audio.PlayWrite(data)
}

// AudioPlayStop stops playback for badge.
func (r *Runtime) AudioPlayStop(badge AppID) error {
	app, err := r.getApp(badge)
	if err != nil {
		return err
	}
	if r.audio == nil {
		return cantripos.NewError("sdkruntime.AudioPlayStop", cantripos.ErrCodeNoPlatformSupport, "")
	}
	if err := r.audio.PlayStop(); err != nil {
		return err
	}
	app.audioPlay = audioPlayIdle
	return nil
}

// NumApps returns the count of currently registered applications.
func (r *Runtime) NumApps() int {
	return len(r.apps)
}
