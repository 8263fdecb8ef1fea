// Package boot implements the cold/warm boot loader: locating the CCP
// signature in a disk image or a preloaded memory image, computing the
// runtime CCP/BDOS/BIOS layout, relocating the system code, and patching
// the guest zero page and BIOS jump table to match.
package boot

import (
	"bytes"
	"fmt"

	"github.com/koron-go/z80"

	"github.com/romwbw/cpmcore/bios"
	"github.com/romwbw/cpmcore/diskimage"
	"github.com/romwbw/cpmcore/memory"
)

const (
	ccpSize       = 0x0800 // CCP is 2 KiB
	bdosSize      = 0x0E00 // BDOS is ~3.5 KiB
	coldEntryByte = 0x5C
	warmEntryByte = 0x58

	// memoryImageCCPOffset is where MOVCPM places the CCP header within a
	// memory-image boot file.
	memoryImageCCPOffset = 0x0980

	// simhFallbackCCPBase is the CCP base code analysis converges on for
	// the known-good SIMH Altair CP/M disk; used only if the CALL-target
	// scan finds no candidate.
	simhFallbackCCPBase = 0xDC00

	codeScanWindow = 0x300
)

// Layout is the computed runtime CCP/BDOS/BIOS placement.
type Layout struct {
	CCPBase   uint16
	BDOSBase  uint16
	BIOSBase  uint16
	BDOSEntry uint16
}

func deriveLayout(ccpBase uint16) Layout {
	bdosBase := ccpBase + ccpSize
	biosBase := bdosBase + bdosSize
	return Layout{
		CCPBase:   ccpBase,
		BDOSBase:  bdosBase,
		BIOSBase:  biosBase,
		BDOSEntry: bdosBase + 6,
	}
}

// BootReport records how cold boot resolved the CCP base, including both
// candidates when header and code analysis disagreed, so a caller or test
// can assert which one won instead of trusting a silent choice.
type BootReport struct {
	Variant string // "disk", "disk-simh", or "memory"

	HeaderCCPBase uint16
	CodeCCPBase   uint16
	UsedCodeBase  bool

	Layout Layout
}

// ErrSignatureNotFound is returned when no CCP signature could be located.
var ErrSignatureNotFound = fmt.Errorf("boot: CCP signature not found")

// findSignature scans buf for two adjacent JP instructions whose low bytes
// are 0x5C and 0x58, followed a few bytes later by "Copyright". It returns
// the offset of the first JP opcode and the two JP targets.
func findSignature(buf []byte) (offset int, cold, warm uint16, ok bool) {
	for i := 0; i+16 <= len(buf); i++ {
		if buf[i] != 0xC3 || buf[i+3] != 0xC3 {
			continue
		}
		c := uint16(buf[i+1]) | uint16(buf[i+2])<<8
		w := uint16(buf[i+4]) | uint16(buf[i+5])<<8
		if c&0xFF != coldEntryByte || w&0xFF != warmEntryByte {
			continue
		}
		if bytes.HasPrefix(buf[i+8:], []byte("Copyright")) || bytes.HasPrefix(buf[i+8:], []byte("Copyrigh")) {
			return i, c, w, true
		}
	}
	return 0, 0, 0, false
}

// scanCodeBase looks for CALL instructions within the codeScanWindow bytes
// starting at codeOffset whose target lands in the typical CCP range
// (0x7000-0xEFFF); the page-aligned target names the actual runtime CCP
// base when it differs from the header's claim.
func scanCodeBase(buf []byte, codeOffset int) (uint16, bool) {
	end := codeOffset + codeScanWindow
	if end > len(buf)-3 {
		end = len(buf) - 3
	}
	for j := codeOffset; j < end; j++ {
		if buf[j] != 0xCD { // CALL
			continue
		}
		target := uint16(buf[j+1]) | uint16(buf[j+2])<<8
		if target >= 0x7000 && target < 0xF000 {
			return target &^ 0xFF, true
		}
	}
	return 0, false
}

func installLayout(mem *memory.Memory, bd *bios.Dispatcher, layout Layout) {
	bd.Relocate(layout.BIOSBase)
	bd.Install(layout.BDOSEntry)
	mem.FillRange(0x0080, 128, 0x00)
}

// ColdBootFromDisk reads drive 0's reserved tracks, locates the CCP
// signature, computes the runtime layout, relocates the system code, and
// sets cpu.PC/SP at the cold entry. It dispatches to the SIMH-specific
// variant automatically when backend is a SIMH image.
func ColdBootFromDisk(cpu *z80.CPU, mem *memory.Memory, bd *bios.Dispatcher, backend diskimage.Backend) (*BootReport, error) {
	if diskimage.IsSIMH(backend) {
		return coldBootSIMH(cpu, mem, bd, backend)
	}

	geom := backend.Geometry()
	buf := make([]byte, 0, geom.ReservedTracks*geom.SectorsPerTrack*geom.SectorSize)
	for track := 0; track < geom.ReservedTracks; track++ {
		for sector := 1; sector <= geom.SectorsPerTrack; sector++ {
			data, err := backend.ReadSector(track, 0, sector)
			if err != nil {
				return nil, fmt.Errorf("boot: reading reserved track %d sector %d: %w", track, sector, err)
			}
			buf = append(buf, data...)
		}
	}

	headerOffset, cold, _, ok := findSignature(buf)
	if !ok {
		return nil, ErrSignatureNotFound
	}
	headerCCPBase := cold - coldEntryByte
	codeOffset := headerOffset + 0x80

	codeBase, foundCode := scanCodeBase(buf, codeOffset)
	ccpBase := headerCCPBase
	if foundCode {
		ccpBase = codeBase
	}

	systemSize := len(buf) - codeOffset
	if systemSize > 0x1800 {
		systemSize = 0x1800
	}
	if systemSize < 0 {
		return nil, fmt.Errorf("boot: reserved tracks too short for a CCP+BDOS image")
	}

	mem.PutRange(ccpBase, buf[codeOffset:codeOffset+systemSize]...)

	layout := deriveLayout(ccpBase)
	installLayout(mem, bd, layout)

	cpu.PC = ccpBase + coldEntryByte
	cpu.SP = ccpBase

	return &BootReport{
		Variant:       "disk",
		HeaderCCPBase: headerCCPBase,
		CodeCCPBase:   codeBase,
		UsedCodeBase:  foundCode,
		Layout:        layout,
	}, nil
}

// coldBootSIMH implements the SIMH Altair boot path: reserved-track sectors
// filled entirely with 0x00/0xE5 are skipped, the remaining sectors are
// concatenated, and the CCP header is copied back over the first 128 bytes
// of the relocated system region before its JP targets are patched — in
// that order, per the documented resolution of the source's ambiguous
// memcpy sequence (copy region, then header, then patch).
func coldBootSIMH(cpu *z80.CPU, mem *memory.Memory, bd *bios.Dispatcher, backend diskimage.Backend) (*BootReport, error) {
	const simhScanTracks = 3
	const simhSectorsPerTrack = 32
	const simhSectorSize = 128

	buf := make([]byte, 0, simhScanTracks*simhSectorsPerTrack*simhSectorSize)
	for track := 0; track < simhScanTracks; track++ {
		for sector := 1; sector <= simhSectorsPerTrack; sector++ {
			data, err := backend.ReadSector(track, 0, sector)
			if err != nil {
				continue
			}
			if isEmptySector(data) {
				continue
			}
			buf = append(buf, data...)
		}
	}

	headerOffset, cold, _, ok := findSIMHHeader(buf)
	if !ok {
		return nil, ErrSignatureNotFound
	}
	headerCCPBase := cold - coldEntryByte

	systemStart := headerOffset + simhSectorSize
	codeBase, foundCode := scanCodeBase(buf, systemStart)
	ccpBase := uint16(simhFallbackCCPBase)
	if foundCode {
		ccpBase = codeBase
	} else if headerCCPBase != 0 {
		ccpBase = headerCCPBase
	}

	// (a) copy the full system region.
	mem.PutRange(ccpBase, buf[systemStart:]...)
	// (b) overwrite the first 128 bytes with the corrected header.
	mem.PutRange(ccpBase, buf[headerOffset:headerOffset+simhSectorSize]...)
	// (c) patch the header's JP low/high bytes to the real runtime base.
	mem.SetU16(ccpBase+1, ccpBase+coldEntryByte)
	mem.SetU16(ccpBase+4, ccpBase+warmEntryByte)

	layout := deriveLayout(ccpBase)
	installLayout(mem, bd, layout)

	cpu.PC = ccpBase + coldEntryByte
	cpu.SP = ccpBase

	return &BootReport{
		Variant:       "disk-simh",
		HeaderCCPBase: headerCCPBase,
		CodeCCPBase:   codeBase,
		UsedCodeBase:  foundCode,
		Layout:        layout,
	}, nil
}

func isEmptySector(data []byte) bool {
	for _, b := range data {
		if b != 0x00 && b != 0xE5 {
			return false
		}
	}
	return true
}

// findSIMHHeader is findSignature's relaxed variant used on the
// contiguously-packed SIMH buffer, which has no "Copyright" proximity
// guarantee once empty sectors are stripped; the JP/JP byte pattern alone
// is the detection criterion here.
func findSIMHHeader(buf []byte) (offset int, cold, warm uint16, ok bool) {
	for i := 0; i+6 <= len(buf); i++ {
		if buf[i] != 0xC3 || buf[i+3] != 0xC3 {
			continue
		}
		c := uint16(buf[i+1]) | uint16(buf[i+2])<<8
		w := uint16(buf[i+4]) | uint16(buf[i+5])<<8
		if c&0xFF == coldEntryByte && w&0xFF == warmEntryByte {
			return i, c, w, true
		}
	}
	return 0, 0, 0, false
}

// ColdBootFromMemory implements the MOVCPM memory-image boot path: the CCP
// header lives at the fixed offset memoryImageCCPOffset within image.
func ColdBootFromMemory(cpu *z80.CPU, mem *memory.Memory, bd *bios.Dispatcher, image []byte) (*BootReport, error) {
	if len(image) <= memoryImageCCPOffset+16 {
		return nil, fmt.Errorf("boot: memory image too short to contain a CCP header at 0x%04X", memoryImageCCPOffset)
	}
	header := image[memoryImageCCPOffset:]
	if header[0] != 0xC3 || header[3] != 0xC3 {
		return nil, ErrSignatureNotFound
	}
	cold := uint16(header[1]) | uint16(header[2])<<8
	if cold&0xFF != coldEntryByte {
		return nil, ErrSignatureNotFound
	}
	headerCCPBase := cold - coldEntryByte

	codeOffset := memoryImageCCPOffset + 0x80
	codeBase, foundCode := scanCodeBase(image, codeOffset)
	ccpBase := headerCCPBase
	if foundCode {
		ccpBase = codeBase
	}

	mem.PutRange(ccpBase, image[memoryImageCCPOffset:]...)

	layout := deriveLayout(ccpBase)
	installLayout(mem, bd, layout)

	cpu.PC = ccpBase + coldEntryByte
	cpu.SP = ccpBase

	return &BootReport{
		Variant:       "memory",
		HeaderCCPBase: headerCCPBase,
		CodeCCPBase:   codeBase,
		UsedCodeBase:  foundCode,
		Layout:        layout,
	}, nil
}

// ColdBoot re-enters an already-loaded CCP at its cold entry point,
// without reloading or re-patching anything. It is what the run loop calls
// when firmware requests a cold boot after the system image is already in
// place (e.g. a guest program that JPs to 0x0000 expecting a fresh start
// rather than a reboot from media).
func ColdBoot(cpu *z80.CPU, layout Layout) {
	cpu.PC = layout.CCPBase + coldEntryByte
	cpu.SP = layout.CCPBase
}

// WarmBoot reloads the CCP from either the live disk image (the first
// ccpSize bytes of drive 0, track 0) or a cached memory-image copy, then
// re-patches the zero page and jump table and points PC/SP at the CCP
// base (not the cold entry: warm boot re-enters the CCP's own startup
// code, which begins at its base rather than the cold-specific offset).
func WarmBoot(cpu *z80.CPU, mem *memory.Memory, bd *bios.Dispatcher, layout Layout, backend diskimage.Backend, cachedMemoryImage []byte) error {
	switch {
	case cachedMemoryImage != nil:
		if len(cachedMemoryImage) <= memoryImageCCPOffset+ccpSize {
			return fmt.Errorf("boot: cached memory image too short for warm boot reload")
		}
		mem.PutRange(layout.CCPBase, cachedMemoryImage[memoryImageCCPOffset:memoryImageCCPOffset+ccpSize]...)
	case backend != nil:
		geom := backend.Geometry()
		if geom.SectorSize <= 0 {
			return fmt.Errorf("boot: warm boot backend has no usable geometry")
		}
		sectors := (ccpSize + geom.SectorSize - 1) / geom.SectorSize
		addr := layout.CCPBase
		for i := 0; i < sectors && i < geom.SectorsPerTrack; i++ {
			data, err := backend.ReadSector(0, 0, i+1)
			if err != nil {
				return fmt.Errorf("boot: reloading CCP sector %d: %w", i+1, err)
			}
			mem.PutRange(addr, data...)
			addr += uint16(len(data))
		}
	}

	installLayout(mem, bd, layout)

	cpu.PC = layout.CCPBase
	cpu.SP = layout.CCPBase
	return nil
}
