// Package audio drives the I2S-style audio controller: two fixed-capacity
// ring buffers bridge the hardware FIFOs and the SDK Runtime's record/play
// calls, with watermark interrupts modeled as a pair of condition variables
// the IRQ handlers and blocking callers rendezvous on.
package audio

import (
	"sync"

	"github.com/cantripos/cantripos"
	"github.com/cantripos/cantripos/internal/constants"
	"github.com/cantripos/cantripos/internal/logging"
	"github.com/cantripos/cantripos/mmio"
)

// Driver owns the RX/TX ring buffers and the register file. Its record/play
// methods implement sdkruntime.AudioDriver.
type Driver struct {
	i2s    *mmio.I2S
	logger *logging.Logger

	rxMu         sync.Mutex
	rxCond       *sync.Cond
	rx           ringBuffer
	rxStopOnFull bool

	txMu   sync.Mutex
	txCond *sync.Cond
	tx     ringBuffer
}

func New(regs mmio.Registers, logger *logging.Logger) *Driver {
	d := &Driver{i2s: mmio.NewI2S(regs), logger: logger}
	d.rxCond = sync.NewCond(&d.rxMu)
	d.txCond = sync.NewCond(&d.txMu)
	return d
}

func rxLevelCode(level uint8) (uint8, error) {
	for i, v := range constants.ValidRXWatermarks {
		if v == level {
			return []uint8{mmio.RxLvl1, mmio.RxLvl4, mmio.RxLvl8, mmio.RxLvl16, mmio.RxLvl30}[i], nil
		}
	}
	return 0, cantripos.NewError("audio.Reset", cantripos.ErrCodeInvalidAudioParameter, "invalid rx watermark")
}

func txLevelCode(level uint8) (uint8, error) {
	for i, v := range constants.ValidTXWatermarks {
		if v == level {
			return []uint8{mmio.TxLvl1, mmio.TxLvl4, mmio.TxLvl8, mmio.TxLvl16}[i], nil
		}
	}
	return 0, cantripos.NewError("audio.Reset", cantripos.ErrCodeInvalidAudioParameter, "invalid tx watermark")
}

// Reset stops recording when rxReset is set and playback when txReset is
// set, then applies the FIFO reset flags and new watermark levels.
func (d *Driver) Reset(rxReset, txReset bool, rxWatermark, txWatermark uint8) error {
	rxCode, err := rxLevelCode(rxWatermark)
	if err != nil {
		return err
	}
	txCode, err := txLevelCode(txWatermark)
	if err != nil {
		return err
	}

	if rxReset {
		d.rxMu.Lock()
		d.stopRecordingLocked()
		d.rxMu.Unlock()
	}
	if txReset {
		d.txMu.Lock()
		d.stopPlayingLocked()
		d.txMu.Unlock()
	}

	d.i2s.SetFifoCtrl(mmio.FifoCtrl{RXReset: rxReset, TXReset: txReset, RXILvl: rxCode, TXILvl: txCode})
	return nil
}

func (d *Driver) drainRXFifo() {
	for d.i2s.FifoStatus().RXLvl > 0 {
		d.i2s.RData()
	}
}

func (d *Driver) stopRecordingLocked() {
	ctrl := d.i2s.Ctrl()
	ctrl.RX = false
	d.i2s.SetCtrl(ctrl)
	fc := d.i2s.FifoCtrl()
	fc.RXReset = true
	d.i2s.SetFifoCtrl(fc)
	ie := d.i2s.IntrEnable()
	ie.RxWatermark = false
	d.i2s.SetIntrEnable(ie)
	is := d.i2s.IntrState()
	is.RxWatermark = false
	d.i2s.SetIntrState(is)
	d.drainRXFifo()
	d.rx.clear()
}

func nz(x int) int {
	if x == 0 {
		return 1
	}
	return x
}

// RecordStart begins recording at the given sample rate.
func (d *Driver) RecordStart(rate, bufferSize int, stopOnFull bool) error {
	ncoRx := constants.AudioClockFreqHz / (2 * nz(rate))
	if ncoRx > constants.NCODividerMask {
		return cantripos.NewError("audio.RecordStart", cantripos.ErrCodeInvalidAudioParameter, "sample rate too low for clock divider")
	}

	d.rxMu.Lock()
	defer d.rxMu.Unlock()
	d.rxStopOnFull = stopOnFull

	is := d.i2s.IntrState()
	is.RxWatermark = true
	d.i2s.SetIntrState(is)
	ie := d.i2s.IntrEnable()
	ie.RxWatermark = true
	d.i2s.SetIntrEnable(ie)
	ctrl := d.i2s.Ctrl()
	ctrl.RX = true
	ctrl.NCORx = uint8(ncoRx)
	d.i2s.SetCtrl(ctrl)
	return nil
}

// RecordStop halts recording and flushes the RX FIFO.
func (d *Driver) RecordStop() error {
	d.rxMu.Lock()
	defer d.rxMu.Unlock()
	d.stopRecordingLocked()
	return nil
}

// RecordCollect drains up to max samples. With waitIfEmpty it blocks each
// time the ring runs dry and returns only once max samples are collected;
// without it, it returns whatever was available. Samples are packed 4 bytes
// per uint32 sample, little-endian.
func (d *Driver) RecordCollect(max int, waitIfEmpty bool) ([]byte, error) {
	d.rxMu.Lock()
	defer d.rxMu.Unlock()

	var out []uint32
	for len(out) < max {
		if v, ok := d.rx.pop(); ok {
			out = append(out, v)
			continue
		}
		if !waitIfEmpty {
			break
		}
		for d.rx.isEmpty() {
			d.rxCond.Wait()
		}
	}
	return packSamples(out), nil
}

// HandleRXWatermark is invoked by the interrupt glue when the RX FIFO
// crosses its watermark; it drains the FIFO into the ring buffer and wakes
// any blocked RecordCollect callers.
func (d *Driver) HandleRXWatermark() {
	d.rxMu.Lock()
	defer d.rxMu.Unlock()

	for d.i2s.FifoStatus().RXLvl > 0 {
		if d.rxStopOnFull && d.rx.availableSpace() == 0 {
			break
		}
		d.rx.push(d.i2s.RData())
	}
	if !d.rx.isEmpty() {
		d.rxCond.Broadcast()
	}
	is := d.i2s.IntrState()
	is.RxWatermark = true
	d.i2s.SetIntrState(is)
}

// PlayStart begins playback at the given sample rate.
func (d *Driver) PlayStart(rate, bufferSize int) error {
	ncoTx := constants.AudioClockFreqHz / (2 * nz(rate))
	if ncoTx > constants.NCODividerMask {
		return cantripos.NewError("audio.PlayStart", cantripos.ErrCodeInvalidAudioParameter, "sample rate too low for clock divider")
	}

	d.txMu.Lock()
	defer d.txMu.Unlock()
	d.tx.clear()

	is := d.i2s.IntrState()
	is.TxWatermark = true
	d.i2s.SetIntrState(is)
	ie := d.i2s.IntrEnable()
	ie.TxWatermark = true
	d.i2s.SetIntrEnable(ie)
	ctrl := d.i2s.Ctrl()
	ctrl.TX = true
	ctrl.NCOTx = uint8(ncoTx)
	d.i2s.SetCtrl(ctrl)
	return nil
}

// PlayWrite enqueues samples for playback, blocking while the ring buffer
// is full.
func (d *Driver) PlayWrite(data []byte) error {
	samples := unpackSamples(data)

	d.txMu.Lock()
	defer d.txMu.Unlock()

	for _, s := range samples {
		for d.tx.availableSpace() == 0 {
			d.txCond.Wait()
		}
		d.tx.push(s)
	}
	if !d.tx.isEmpty() {
		d.fillTXFifoLocked()
	}
	return nil
}

// fillTXFifoLocked copies from the TX ring buffer into the hardware FIFO
// until the FIFO is full or the ring buffer drains, whichever comes first.
func (d *Driver) fillTXFifoLocked() {
	for d.i2s.FifoStatus().TXLvl < constants.I2STxFIFOCapacity {
		v, ok := d.tx.pop()
		if !ok {
			break
		}
		d.i2s.SetWData(v)
	}
}

// HandleTXWatermark is invoked by the interrupt glue when the TX FIFO has
// room for more data; it tops up the FIFO and wakes blocked PlayWrite
// callers once enough space has opened up.
func (d *Driver) HandleTXWatermark() {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	d.fillTXFifoLocked()
	if d.tx.availableSpace() >= constants.TXWatermarkReadyCount {
		d.txCond.Broadcast()
	}
	is := d.i2s.IntrState()
	is.TxWatermark = true
	d.i2s.SetIntrState(is)
}

func (d *Driver) stopPlayingLocked() {
	ctrl := d.i2s.Ctrl()
	ctrl.TX = false
	d.i2s.SetCtrl(ctrl)
	fc := d.i2s.FifoCtrl()
	fc.TXReset = true
	d.i2s.SetFifoCtrl(fc)
	ie := d.i2s.IntrEnable()
	ie.TxWatermark = false
	d.i2s.SetIntrEnable(ie)
	is := d.i2s.IntrState()
	is.TxWatermark = false
	d.i2s.SetIntrState(is)
}

// PlayStop blocks until the ring buffer and hardware FIFO have both
// drained, then disables the TX path.
func (d *Driver) PlayStop() error {
	d.txMu.Lock()
	for !d.tx.isEmpty() || d.i2s.FifoStatus().TXLvl > 0 {
		d.fillTXFifoLocked()
		d.txCond.Wait()
	}
	d.stopPlayingLocked()
	d.txMu.Unlock()
	return nil
}

func packSamples(samples []uint32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		out[i*4+0] = byte(s)
		out[i*4+1] = byte(s >> 8)
		out[i*4+2] = byte(s >> 16)
		out[i*4+3] = byte(s >> 24)
	}
	return out
}

func unpackSamples(data []byte) []uint32 {
	n := len(data) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		b := data[i*4 : i*4+4]
		out[i] = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	return out
}
