package hbios

import (
	"testing"

	"github.com/koron-go/z80"

	"github.com/romwbw/cpmcore/diskimage"
	"github.com/romwbw/cpmcore/memory"
)

type fakeBackend struct {
	geom     diskimage.Geometry
	readOnly bool
	sectors  map[[3]int][]byte
}

func newFakeBackend(geom diskimage.Geometry) *fakeBackend {
	return &fakeBackend{geom: geom, sectors: make(map[[3]int][]byte)}
}

func (f *fakeBackend) Geometry() diskimage.Geometry { return f.geom }
func (f *fakeBackend) ReadOnly() bool               { return f.readOnly }
func (f *fakeBackend) Close() error                 { return nil }

func (f *fakeBackend) ReadSector(track, head, sector int) ([]byte, error) {
	data, ok := f.sectors[[3]int{track, head, sector}]
	if !ok {
		data = make([]byte, f.geom.SectorSize)
	}
	return data, nil
}

func (f *fakeBackend) WriteSector(track, head, sector int, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.sectors[[3]int{track, head, sector}] = buf
	return nil
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	mem := memory.New(nil, 4)
	return New(nil, mem)
}

func TestIsTrapMatchesOnlyMainEntry(t *testing.T) {
	d := newTestDispatcher(t)
	if !d.IsTrap(DefaultMainEntry) {
		t.Fatalf("IsTrap(DefaultMainEntry) should be true")
	}
	if d.IsTrap(DefaultMainEntry + 1) {
		t.Fatalf("IsTrap(DefaultMainEntry+1) should be false")
	}
}

func TestInstallWritesIdentBlock(t *testing.T) {
	d := newTestDispatcher(t)
	d.Install()
	if d.Memory.Get(0xFF00) != 'W' || d.Memory.Get(0xFF01) != ^byte('W') {
		t.Fatalf("ident block at 0xFF00 missing signature")
	}
	if d.Memory.Get(0xFE00) != 'W' {
		t.Fatalf("ident block at 0xFE00 missing signature")
	}
	if got := d.Memory.GetU16(0xFFFC); got != 0xFF00 {
		t.Fatalf("ident pointer = 0x%04X, want 0xFF00", got)
	}
}

func TestCIOINSuspendsOnEmptyRingAndResumesAfterPush(t *testing.T) {
	d := newTestDispatcher(t)
	cpu := &z80.CPU{}
	cpu.BC.Hi = FnCIOIN

	if err := d.Dispatch(cpu); err != ErrInputStarved {
		t.Fatalf("Dispatch(CIOIN) on empty ring = %v, want ErrInputStarved", err)
	}

	d.Console.Push('A')
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(CIOIN): %v", err)
	}
	if cpu.AF.Hi != ResultSuccess {
		t.Fatalf("A = 0x%02X, want ResultSuccess", cpu.AF.Hi)
	}
	if cpu.DE.Lo != 'A' {
		t.Fatalf("E = 0x%02X, want 'A'", cpu.DE.Lo)
	}
}

func TestSYSVERReportsConfiguredVersion(t *testing.T) {
	d := newTestDispatcher(t)
	cpu := &z80.CPU{}
	cpu.BC.Hi = FnSYSVER
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(SYSVER): %v", err)
	}
	if cpu.HL.Lo != 0x35 {
		t.Fatalf("L = 0x%02X, want 0x35", cpu.HL.Lo)
	}
	if cpu.AF.Hi != ResultSuccess {
		t.Fatalf("A = 0x%02X, want ResultSuccess", cpu.AF.Hi)
	}
}

func TestSYSRESETInvokesCallback(t *testing.T) {
	d := newTestDispatcher(t)
	var gotType byte
	called := false
	d.SetResetCallback(func(cpu *z80.CPU, resetType byte) {
		called = true
		gotType = resetType
		cpu.PC = 0
	})
	cpu := &z80.CPU{}
	cpu.PC = 0x1234
	cpu.BC.Hi = FnSYSRESET
	cpu.BC.Lo = 0x07
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(SYSRESET): %v", err)
	}
	if !called {
		t.Fatalf("reset callback was not invoked")
	}
	if gotType != 0x07 {
		t.Fatalf("reset type = 0x%02X, want 0x07", gotType)
	}
	if cpu.PC != 0 {
		t.Fatalf("PC = 0x%04X, want 0 after reset callback", cpu.PC)
	}
}

func TestSYSPEEKPOKERoundTripThroughSelectedBank(t *testing.T) {
	d := newTestDispatcher(t)
	cpu := &z80.CPU{}

	cpu.BC.Hi = FnSYSSETBNK
	cpu.DE.Lo = 0x80
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(SYSSETBNK): %v", err)
	}

	cpu.BC.Hi = FnSYSPOKE
	cpu.HL.SetU16(0x0100)
	cpu.DE.Lo = 0x42
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(SYSPOKE): %v", err)
	}

	cpu.BC.Hi = FnSYSPEEK
	cpu.HL.SetU16(0x0100)
	cpu.DE.Lo = 0
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(SYSPEEK): %v", err)
	}
	if cpu.DE.Lo != 0x42 {
		t.Fatalf("peeked 0x%02X, want 0x42", cpu.DE.Lo)
	}
}

func TestSYSBNKCPYCopiesAcrossBanks(t *testing.T) {
	d := newTestDispatcher(t)
	cpu := &z80.CPU{}
	d.Memory.WriteBank(0x80, 0x0200, 0xAA)
	d.Memory.WriteBank(0x80, 0x0201, 0xBB)

	cpu.BC.Hi = FnSYSSETCPY
	cpu.DE.Hi = 0x80
	cpu.DE.Lo = 0x81
	cpu.HL.SetU16(0x0200)
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(SYSSETCPY): %v", err)
	}

	cpu.BC.Hi = FnSYSBNKCPY
	cpu.HL.SetU16(0x0300)
	cpu.DE.SetU16(2)
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(SYSBNKCPY): %v", err)
	}

	if got := d.Memory.ReadBank(0x81, 0x0300); got != 0xAA {
		t.Fatalf("copied byte 0 = 0x%02X, want 0xAA", got)
	}
	if got := d.Memory.ReadBank(0x81, 0x0301); got != 0xBB {
		t.Fatalf("copied byte 1 = 0x%02X, want 0xBB", got)
	}
}

func TestDIOReadWriteRoundTripThroughUnit(t *testing.T) {
	d := newTestDispatcher(t)
	geom := diskimage.Geometry{Tracks: 77, Heads: 1, SectorsPerTrack: 26, SectorSize: 128}
	backend := newFakeBackend(geom)
	if err := d.MountUnit(0, backend); err != nil {
		t.Fatalf("MountUnit: %v", err)
	}

	payload := make([]byte, geom.SectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	d.Memory.PutRange(0x4000, payload...)

	cpu := &z80.CPU{}
	cpu.BC.Hi = FnDIOWRITE
	cpu.BC.Lo = 0
	cpu.DE.SetU16(0) // LBA high bytes (D, E) = 0
	cpu.HL.Lo = 0     // LBA low byte
	cpu.HL.Hi = 0x40  // DMA page -> 0x4000
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(DIOWRITE): %v", err)
	}
	if cpu.AF.Hi != ResultSuccess {
		t.Fatalf("write status = 0x%02X, want ResultSuccess", cpu.AF.Hi)
	}

	d.Memory.FillRange(0x5000, geom.SectorSize, 0)
	cpu.BC.Hi = FnDIOREAD
	cpu.HL.Hi = 0x50
	if err := d.Dispatch(cpu); err != nil {
		t.Fatalf("Dispatch(DIOREAD): %v", err)
	}
	got := d.Memory.GetRange(0x5000, geom.SectorSize)
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d = 0x%02X, want 0x%02X", i, got[i], payload[i])
		}
	}
}

func TestSignalPortRecordsDispatchAddressAndLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	d.HandleSignalPort(0x01) // lifecycle: starting
	if d.Lifecycle() != 0x01 {
		t.Fatalf("Lifecycle() = 0x%02X, want 0x01", d.Lifecycle())
	}

	d.HandleSignalPort(0x00) // class: CIO
	d.HandleSignalPort(0x34) // addr low
	d.HandleSignalPort(0x12) // addr high

	cio, _, _, _, _, _ := d.DispatchAddrs()
	if cio != 0x1234 {
		t.Fatalf("recorded CIO dispatch addr = 0x%04X, want 0x1234", cio)
	}
}

func TestSYSBOOTReturnsSentinelAndRecordsRequest(t *testing.T) {
	d := newTestDispatcher(t)
	cpu := &z80.CPU{}
	cpu.BC.Hi = FnSYSBOOT
	cpu.BC.Lo = 2
	if err := d.Dispatch(cpu); err != ErrSysBoot {
		t.Fatalf("Dispatch(SYSBOOT) = %v, want ErrSysBoot", err)
	}
	req := d.PendingBoot()
	if req == nil || req.DiskUnit != 2 {
		t.Fatalf("PendingBoot() = %+v, want DiskUnit=2", req)
	}
	if d.PendingBoot() != nil {
		t.Fatalf("PendingBoot() should clear after read")
	}
}
