package boot

import (
	"testing"

	"github.com/koron-go/z80"

	"github.com/romwbw/cpmcore/bios"
	"github.com/romwbw/cpmcore/diskimage"
	"github.com/romwbw/cpmcore/memory"
)

// byteBackend serves sectors out of a single flat buffer laid out in
// (track, head, sector-1) major order, mirroring the raw .dsk convention.
type byteBackend struct {
	geom diskimage.Geometry
	buf  []byte
}

func newByteBackend(geom diskimage.Geometry, buf []byte) *byteBackend {
	b := &byteBackend{geom: geom, buf: make([]byte, geom.TotalSectors()*geom.SectorSize)}
	copy(b.buf, buf)
	return b
}

func (b *byteBackend) Geometry() diskimage.Geometry { return b.geom }
func (b *byteBackend) ReadOnly() bool                { return false }
func (b *byteBackend) Close() error                  { return nil }

func (b *byteBackend) index(track, head, sector int) int {
	return (track*b.geom.Heads+head)*b.geom.SectorsPerTrack + (sector - 1)
}

func (b *byteBackend) ReadSector(track, head, sector int) ([]byte, error) {
	off := b.index(track, head, sector) * b.geom.SectorSize
	return b.buf[off : off+b.geom.SectorSize], nil
}

func (b *byteBackend) WriteSector(track, head, sector int, data []byte) error {
	off := b.index(track, head, sector) * b.geom.SectorSize
	copy(b.buf[off:off+b.geom.SectorSize], data)
	return nil
}

func buildSystemTracks() []byte {
	geom := diskimage.Geometry{Tracks: 77, Heads: 1, SectorsPerTrack: 26, SectorSize: 128, ReservedTracks: 2}
	buf := make([]byte, geom.ReservedTracks*geom.SectorsPerTrack*geom.SectorSize)

	// CCP header at offset 0: JP D85C, JP D858, "Copyright" shortly after.
	buf[0] = 0xC3
	buf[1] = 0x5C
	buf[2] = 0xD8
	buf[3] = 0xC3
	buf[4] = 0x58
	buf[5] = 0xD8
	copy(buf[8:], []byte("Copyright 1979"))

	// The actual CCP code starts 0x80 bytes after the header, beginning
	// (as real CCP images do) with its own JP pair, and contains a CALL a
	// little further in whose target names the real runtime base 0xDC00,
	// disagreeing with the header's 0xD800.
	codeOffset := 0x80
	buf[codeOffset] = 0xC3
	buf[codeOffset+1] = 0x00
	buf[codeOffset+2] = 0xDC
	buf[codeOffset+0x10] = 0xCD
	buf[codeOffset+0x11] = 0x34
	buf[codeOffset+0x12] = 0xDC

	return buf
}

func TestColdBootFromDiskPrefersCodeAnalysisBase(t *testing.T) {
	geom := diskimage.Geometry{Tracks: 77, Heads: 1, SectorsPerTrack: 26, SectorSize: 128, ReservedTracks: 2}
	backend := newByteBackend(geom, buildSystemTracks())

	mem := memory.New(nil, 4)
	bd := bios.New(nil, mem, 0xFE00)
	cpu := &z80.CPU{}

	report, err := ColdBootFromDisk(cpu, mem, bd, backend)
	if err != nil {
		t.Fatalf("ColdBootFromDisk: %v", err)
	}
	if report.HeaderCCPBase != 0xD800 {
		t.Fatalf("HeaderCCPBase = 0x%04X, want 0xD800", report.HeaderCCPBase)
	}
	if !report.UsedCodeBase || report.CodeCCPBase != 0xDC00 {
		t.Fatalf("expected code analysis to win with base 0xDC00, got used=%v base=0x%04X", report.UsedCodeBase, report.CodeCCPBase)
	}
	if report.Layout.CCPBase != 0xDC00 {
		t.Fatalf("Layout.CCPBase = 0x%04X, want 0xDC00", report.Layout.CCPBase)
	}
	if cpu.PC != 0xDC00+0x5C {
		t.Fatalf("PC = 0x%04X, want 0x%04X", cpu.PC, 0xDC00+0x5C)
	}
	if cpu.SP != 0xDC00 {
		t.Fatalf("SP = 0x%04X, want 0xDC00", cpu.SP)
	}
	if got := mem.Get(0xDC00); got != 0xC3 {
		t.Fatalf("relocated CCP header byte = 0x%02X, want 0xC3", got)
	}
	if got := bd.BiosBase; got != report.Layout.BIOSBase {
		t.Fatalf("bd.BiosBase = 0x%04X, want 0x%04X", got, report.Layout.BIOSBase)
	}
}

func TestWarmBootReloadsCCPAndResetsPCToBase(t *testing.T) {
	geom := diskimage.Geometry{Tracks: 77, Heads: 1, SectorsPerTrack: 26, SectorSize: 128, ReservedTracks: 2}
	backend := newByteBackend(geom, buildSystemTracks())

	mem := memory.New(nil, 4)
	bd := bios.New(nil, mem, 0xFE00)
	cpu := &z80.CPU{}

	report, err := ColdBootFromDisk(cpu, mem, bd, backend)
	if err != nil {
		t.Fatalf("ColdBootFromDisk: %v", err)
	}

	mem.Set(report.Layout.CCPBase, 0x00) // corrupt the resident CCP

	if err := WarmBoot(cpu, mem, bd, report.Layout, backend, nil); err != nil {
		t.Fatalf("WarmBoot: %v", err)
	}
	if cpu.PC != report.Layout.CCPBase {
		t.Fatalf("PC = 0x%04X, want CCP base 0x%04X", cpu.PC, report.Layout.CCPBase)
	}
	if got := mem.Get(report.Layout.CCPBase); got != 0xC3 {
		t.Fatalf("CCP header byte after warm boot = 0x%02X, want 0xC3 (reloaded)", got)
	}
}

func TestColdBootFromMemoryUsesFixedOffset(t *testing.T) {
	image := make([]byte, memoryImageCCPOffset+0x1000)
	header := image[memoryImageCCPOffset:]
	header[0] = 0xC3
	header[1] = 0x5C
	header[2] = 0xD0
	header[3] = 0xC3
	header[4] = 0x58
	header[5] = 0xD0

	mem := memory.New(nil, 4)
	bd := bios.New(nil, mem, 0xFE00)
	cpu := &z80.CPU{}

	report, err := ColdBootFromMemory(cpu, mem, bd, image)
	if err != nil {
		t.Fatalf("ColdBootFromMemory: %v", err)
	}
	if report.HeaderCCPBase != 0xD000 {
		t.Fatalf("HeaderCCPBase = 0x%04X, want 0xD000", report.HeaderCCPBase)
	}
	if report.Layout.CCPBase != 0xD000 {
		t.Fatalf("Layout.CCPBase = 0x%04X, want 0xD000 (no code-analysis override found)", report.Layout.CCPBase)
	}
	if cpu.PC != 0xD000+0x5C {
		t.Fatalf("PC = 0x%04X, want 0x%04X", cpu.PC, 0xD000+0x5C)
	}
}

func TestMissingSignatureReturnsError(t *testing.T) {
	geom := diskimage.Geometry{Tracks: 77, Heads: 1, SectorsPerTrack: 26, SectorSize: 128, ReservedTracks: 2}
	backend := newByteBackend(geom, make([]byte, geom.ReservedTracks*geom.SectorsPerTrack*geom.SectorSize))

	mem := memory.New(nil, 4)
	bd := bios.New(nil, mem, 0xFE00)
	cpu := &z80.CPU{}

	if _, err := ColdBootFromDisk(cpu, mem, bd, backend); err != ErrSignatureNotFound {
		t.Fatalf("ColdBootFromDisk with no signature = %v, want ErrSignatureNotFound", err)
	}
}
