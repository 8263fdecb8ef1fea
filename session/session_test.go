package session

import (
	"context"
	"strings"
	"testing"

	"github.com/romwbw/cpmcore/bios"
	"github.com/romwbw/cpmcore/diskdefs"
	"github.com/romwbw/cpmcore/diskimage"
	"github.com/romwbw/cpmcore/hbios"
)

// fakeBackend is an in-memory diskimage.Backend, shared in shape with the
// one bios_test.go and hbios_test.go each define for their own packages.
type fakeBackend struct {
	geom    diskimage.Geometry
	sectors map[[3]int][]byte
}

func newFakeBackend(geom diskimage.Geometry) *fakeBackend {
	return &fakeBackend{geom: geom, sectors: make(map[[3]int][]byte)}
}

func (f *fakeBackend) Geometry() diskimage.Geometry { return f.geom }
func (f *fakeBackend) ReadOnly() bool               { return false }
func (f *fakeBackend) Close() error                 { return nil }

func (f *fakeBackend) ReadSector(track, head, sector int) ([]byte, error) {
	data, ok := f.sectors[[3]int{track, head, sector}]
	if !ok {
		data = make([]byte, f.geom.SectorSize)
		for i := range data {
			data[i] = diskimage.EmptyByte
		}
	}
	return data, nil
}

func (f *fakeBackend) WriteSector(track, head, sector int, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.sectors[[3]int{track, head, sector}] = buf
	return nil
}

func mountDrive(t *testing.T, s *Session, unit int) (*bios.Drive, *fakeBackend) {
	t.Helper()
	def := diskdefs.Default()
	def.Name = "test"
	geom := diskimage.Geometry{Tracks: def.Tracks, Heads: 1, SectorsPerTrack: def.SecTrk, SectorSize: def.SecLen, ReservedTracks: def.BootTrk}
	backend := newFakeBackend(geom)
	drv := bios.NewDrive(backend, def)
	drv.WriteDPH(s.Memory, 0xFC00, 0xFB00)
	if err := s.MountDiskUnit(unit, drv); err != nil {
		t.Fatalf("MountDiskUnit: %v", err)
	}
	return drv, backend
}

func TestNewArmsBreakpointsForBothDispatchers(t *testing.T) {
	s := New(nil)
	for n := 0; n < bios.NumFunctions; n++ {
		if _, ok := s.CPU.BreakPoints[s.BIOS.TrapBase+uint16(n)]; !ok {
			t.Fatalf("missing breakpoint for BIOS trap %d", n)
		}
	}
	if _, ok := s.CPU.BreakPoints[s.HBIOS.MainEntry]; !ok {
		t.Fatalf("missing breakpoint for HBIOS main entry")
	}
}

func TestHandleTrapRoutesToBIOSAndSimulatesRet(t *testing.T) {
	s := New(nil)
	s.BIOS.Install(0xF000)

	retAddr := uint16(0x1234)
	s.CPU.SP = 0x2000
	s.Memory.SetU16(s.CPU.SP, retAddr)

	s.CPU.PC = s.BIOS.TrapBase + bios.FnConst // CONST, always returns nil
	if err := s.handleTrap(); err != nil {
		t.Fatalf("handleTrap: %v", err)
	}
	if s.CPU.PC != retAddr {
		t.Fatalf("PC = 0x%04X, want simulated RET to 0x%04X", s.CPU.PC, retAddr)
	}
	if s.CPU.SP != 0x2002 {
		t.Fatalf("SP = 0x%04X, want 0x2002 after popping return address", s.CPU.SP)
	}
}

func TestHandleTrapRoutesToHBIOSAndSimulatesRet(t *testing.T) {
	s := New(nil)
	s.HBIOS.Install()

	retAddr := uint16(0x5678)
	s.CPU.SP = 0x2000
	s.Memory.SetU16(s.CPU.SP, retAddr)

	s.CPU.PC = s.HBIOS.MainEntry
	s.CPU.BC.Hi = hbios.FnSYSVER
	if err := s.handleTrap(); err != nil {
		t.Fatalf("handleTrap: %v", err)
	}
	if s.CPU.HL.Lo != hbios.VersionMajorMinor {
		t.Fatalf("HL.Lo = 0x%02X, want version 0x%02X", s.CPU.HL.Lo, hbios.VersionMajorMinor)
	}
	if s.CPU.PC != retAddr {
		t.Fatalf("PC = 0x%04X, want simulated RET to 0x%04X", s.CPU.PC, retAddr)
	}
}

func TestHandleTrapOnConinStarvationLeavesPCAtTrap(t *testing.T) {
	s := New(nil)
	s.BIOS.Install(0xF000)

	trapPC := s.BIOS.TrapBase + bios.FnConin
	s.CPU.PC = trapPC
	err := s.handleTrap()
	if err == nil {
		t.Fatalf("handleTrap on empty console ring should error")
	}
	if s.CPU.PC != trapPC {
		t.Fatalf("PC = 0x%04X, want unchanged at trap 0x%04X", s.CPU.PC, trapPC)
	}
}

func TestHandleResetFlushesConsoleAndZeroesPC(t *testing.T) {
	s := New(nil)
	s.PushInput('A')
	s.PushInput('B')
	s.CPU.PC = 0x9999
	s.Memory.SelectBank(0x81)

	s.handleReset(s.CPU, 0x00)

	if s.CPU.PC != 0 {
		t.Fatalf("PC = 0x%04X after reset, want 0", s.CPU.PC)
	}
	if s.Memory.CurrentBank() != 0 {
		t.Fatalf("CurrentBank = 0x%02X after reset, want 0", s.Memory.CurrentBank())
	}
	if !s.BIOS.Console.Empty() || !s.HBIOS.Console.Empty() {
		t.Fatalf("console rings should be flushed after reset")
	}
}

func TestResolveSysBootFromMountedDiskUnit(t *testing.T) {
	s := New(nil)
	s.BIOS.Install(0xF000)
	mountDrive(t, s, 0)

	// Build a minimal signature-bearing payload at the front of drive 0's
	// reserved tracks so ColdBootFromDisk has something to find.
	def := diskdefs.Default()
	header := make([]byte, def.SecLen)
	header[0], header[1], header[2] = 0xC3, 0x5C, 0xD8
	header[3], header[4], header[5] = 0xC3, 0x58, 0xD8
	copy(header[8:], []byte("Copyright"))
	backend := s.HBIOS.DiskBackend(0)
	if backend == nil {
		t.Fatalf("expected disk unit 0 to be mounted")
	}
	if err := backend.WriteSector(0, 0, 1, header); err != nil {
		t.Fatalf("seeding boot sector: %v", err)
	}
	code := make([]byte, def.SecLen)
	code[0] = 0xC3
	if err := backend.WriteSector(0, 0, 2, code); err != nil {
		t.Fatalf("seeding code sector: %v", err)
	}

	// Drive the sentinel path directly: simulate what Dispatch(SYSBOOT)
	// would have recorded, then let resolveSysBoot act on it.
	s.CPU.BC.Lo = 0
	s.CPU.DE.Lo = 0
	s.CPU.PC = s.HBIOS.MainEntry
	s.CPU.BC.Hi = hbios.FnSYSBOOT
	if err := s.HBIOS.Dispatch(s.CPU); err != hbios.ErrSysBoot {
		t.Fatalf("Dispatch(SYSBOOT) = %v, want ErrSysBoot", err)
	}

	if err := s.resolveSysBoot(); err != nil {
		t.Fatalf("resolveSysBoot: %v", err)
	}
	if !s.haveLayout {
		t.Fatalf("expected resolveSysBoot to have cold-booted and set a layout")
	}
}

func TestResolveSysBootFromRomApp(t *testing.T) {
	const memoryImageCCPOffset = 0x0980 // mirrors boot.memoryImageCCPOffset
	s := New(nil)
	image := make([]byte, memoryImageCCPOffset+0x100)
	header := image[memoryImageCCPOffset:]
	header[0], header[1], header[2] = 0xC3, 0x5C, 0xD0
	header[3], header[4], header[5] = 0xC3, 0x58, 0xD0

	s.RegisterRomApp(hbios.RomApp{Name: "TEST", Key: 0x01, Sys: image})

	s.CPU.PC = s.HBIOS.MainEntry
	s.CPU.BC.Hi = hbios.FnSYSBOOT
	s.CPU.BC.Lo = 0
	s.CPU.DE.Lo = 0x01
	if err := s.HBIOS.Dispatch(s.CPU); err != hbios.ErrSysBoot {
		t.Fatalf("Dispatch(SYSBOOT) = %v, want ErrSysBoot", err)
	}

	if err := s.resolveSysBoot(); err != nil {
		t.Fatalf("resolveSysBoot: %v", err)
	}
	if s.layout.CCPBase != 0xD000 {
		t.Fatalf("CCPBase = 0x%04X, want 0xD000 from the registered ROM app", s.layout.CCPBase)
	}
}

func TestResolveSysBootFallsBackToResolver(t *testing.T) {
	s := New(nil)
	called := false
	s.SetBootResolver(func(req hbios.BootRequest) error {
		called = true
		if req.DiskUnit != 3 {
			t.Fatalf("DiskUnit = %d, want 3", req.DiskUnit)
		}
		return nil
	})

	s.CPU.PC = s.HBIOS.MainEntry
	s.CPU.BC.Hi = hbios.FnSYSBOOT
	s.CPU.BC.Lo = 3
	s.CPU.DE.Lo = 0
	if err := s.HBIOS.Dispatch(s.CPU); err != hbios.ErrSysBoot {
		t.Fatalf("Dispatch(SYSBOOT) = %v, want ErrSysBoot", err)
	}

	if err := s.resolveSysBoot(); err != nil {
		t.Fatalf("resolveSysBoot: %v", err)
	}
	if !called {
		t.Fatalf("expected the registered boot resolver to be invoked")
	}
}

func TestResolveSysBootWithNoResolverReturnsErrBootRequested(t *testing.T) {
	s := New(nil)
	s.CPU.PC = s.HBIOS.MainEntry
	s.CPU.BC.Hi = hbios.FnSYSBOOT
	s.CPU.BC.Lo = 7
	s.CPU.DE.Lo = 0
	if err := s.HBIOS.Dispatch(s.CPU); err != hbios.ErrSysBoot {
		t.Fatalf("Dispatch(SYSBOOT) = %v, want ErrSysBoot", err)
	}
	if err := s.resolveSysBoot(); err != ErrBootRequested {
		t.Fatalf("resolveSysBoot = %v, want ErrBootRequested", err)
	}
}

// TestRunUntilIdleServicesWarmBootAndReloadsCCP drives a real WBOOT trap
// through RunUntilIdle end to end: cold boot establishes a layout and a
// boot backend, the resident CCP byte is corrupted to simulate a guest
// that trashed low memory, then firing WBOOT must reload the CCP from the
// boot backend and land PC back at the CCP base. A breakpoint planted at
// the CCP base stops the loop right there, since there's no real CCP
// machine code in the fixture for the CPU to execute past that point.
func TestRunUntilIdleServicesWarmBootAndReloadsCCP(t *testing.T) {
	s := New(nil)
	s.BIOS.Install(0xF000)
	_, backend := mountDrive(t, s, 0)

	def := diskdefs.Default()
	header := make([]byte, def.SecLen)
	header[0], header[1], header[2] = 0xC3, 0x5C, 0xD8
	header[3], header[4], header[5] = 0xC3, 0x58, 0xD8
	copy(header[8:], []byte("Copyright"))
	if err := backend.WriteSector(0, 0, 1, header); err != nil {
		t.Fatalf("seeding boot sector: %v", err)
	}
	code := make([]byte, def.SecLen)
	code[0] = 0xC3
	if err := backend.WriteSector(0, 0, 2, code); err != nil {
		t.Fatalf("seeding code sector: %v", err)
	}

	report, err := s.ColdBootFromDisk(backend)
	if err != nil {
		t.Fatalf("ColdBootFromDisk: %v", err)
	}
	ccpBase := report.Layout.CCPBase

	s.Memory.Set(ccpBase, 0x00) // corrupt the resident CCP
	s.CPU.BreakPoints[ccpBase] = struct{}{}

	retAddr := uint16(0x1234)
	s.CPU.SP = 0x2000
	s.Memory.SetU16(s.CPU.SP, retAddr)
	s.CPU.PC = s.BIOS.TrapBase + bios.FnWBoot

	err = s.RunUntilIdle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unowned address") {
		t.Fatalf("RunUntilIdle = %v, want it to stop at the planted CCP-base breakpoint", err)
	}
	if s.CPU.PC != ccpBase {
		t.Fatalf("PC = 0x%04X after warm boot, want CCP base 0x%04X", s.CPU.PC, ccpBase)
	}
	if s.CPU.SP != ccpBase {
		t.Fatalf("SP = 0x%04X after warm boot, want CCP base 0x%04X", s.CPU.SP, ccpBase)
	}
	if got := s.Memory.Get(ccpBase); got != 0xC3 {
		t.Fatalf("CCP byte at base after warm boot = 0x%02X, want 0xC3 (reloaded)", got)
	}
}

func TestLoadROMInstallsIdentAndAPITypePatch(t *testing.T) {
	s := New(nil)
	rom := make([]byte, 0x1000)
	rom[0x0112] = 0xFF
	if err := s.LoadROM(rom); err != nil {
		t.Fatalf("LoadROM: %v", err)
	}
	if got := s.Memory.Get(0xFF00); got != 'W' {
		t.Fatalf("ident byte at 0xFF00 = 0x%02X, want 'W'", got)
	}
	if got := s.Memory.ReadBank(0x00, 0x0112); got != 0x00 {
		t.Fatalf("APITYPE byte = 0x%02X, want 0x00 after patch", got)
	}
}
