package mmio

import "testing"

func TestCtrlRoundTrip(t *testing.T) {
	c := Ctrl{TX: true, RX: true, NCORx: 0x55, NCOTx: 0x2a}
	got := decodeCtrl(c.encode())
	if got != c {
		t.Errorf("decodeCtrl(encode()) = %+v, want %+v", got, c)
	}
}

func TestIntrBitsRoundTrip(t *testing.T) {
	b := IntrBits{RxWatermark: true, TxEmpty: true}
	got := decodeIntrBits(b.encode())
	if got != b {
		t.Errorf("decodeIntrBits(encode()) = %+v, want %+v", got, b)
	}
}

func TestFifoCtrlRoundTrip(t *testing.T) {
	f := FifoCtrl{RXReset: true, RXILvl: RxLvl16, TXILvl: TxLvl8}
	got := decodeFifoCtrl(f.encode())
	if got != f {
		t.Errorf("decodeFifoCtrl(encode()) = %+v, want %+v", got, f)
	}
}

func TestI2SCtrlThroughSimRegisters(t *testing.T) {
	i2s := NewI2S(NewSimRegisters())
	i2s.SetCtrl(Ctrl{TX: true, NCOTx: 7})
	got := i2s.Ctrl()
	if !got.TX || got.NCOTx != 7 {
		t.Errorf("Ctrl() = %+v, want TX=true NCOTx=7", got)
	}
}

func TestFifoStatusDecode(t *testing.T) {
	v := uint32(5) | uint32(9)<<fifoStatusRXLvlShift
	s := decodeFifoStatus(v)
	if s.TXLvl != 5 || s.RXLvl != 9 {
		t.Errorf("decodeFifoStatus(%#x) = %+v, want TXLvl=5 RXLvl=9", v, s)
	}
}
