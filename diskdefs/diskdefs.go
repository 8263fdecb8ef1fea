// Package diskdefs parses cpmtools-style diskdefs text and derives the
// CP/M Disk Parameter Block fields (BSH, BLM, EXM, DSM, DRM, AL0/AL1, CKS,
// OFF) a mounted raw image needs before the BIOS can publish a DPB for it.
package diskdefs

import "fmt"

// OS identifies the CP/M-family variant a definition targets; it mainly
// affects the 8 MiB size ceiling enforced by IsValid.
type OS int

const (
	OSCPM22 OS = iota
	OSCPM3
	OSISX
	OSP2DOS
	OSZSystem
)

// DiskDef is one parsed diskdef block plus its derived DPB fields.
type DiskDef struct {
	Name string

	SecLen  int
	Tracks  int
	SecTrk  int
	Heads   int

	BlockSize int
	MaxDir    int
	BootTrk   int
	DirBlks   int

	Skew    int
	SkewTab []int

	Offset          int
	LogicalExtents  int
	OS              OS
}

// Default returns a DiskDef with the same field defaults cpmtools uses.
func Default() DiskDef {
	return DiskDef{
		SecLen:    128,
		Tracks:    77,
		SecTrk:    26,
		Heads:     1,
		BlockSize: 1024,
		MaxDir:    64,
		BootTrk:   2,
		OS:        OSCPM22,
	}
}

// BSH is the block shift factor, log2(blocksize/128).
func (d DiskDef) BSH() int {
	bs := d.BlockSize / 128
	shift := 0
	for bs > 1 {
		bs >>= 1
		shift++
	}
	return shift
}

// BLM is the block mask, blocksize/128 - 1.
func (d DiskDef) BLM() int {
	return d.BlockSize/128 - 1
}

// EXM is the extent mask: a directory entry holds sixteen 8-bit block
// numbers when DSM fits in 8 bits, eight 16-bit block numbers once it
// doesn't.
func (d DiskDef) EXM() int {
	large := d.DSM() > 255
	switch d.BlockSize {
	case 1024:
		return 0
	case 2048:
		if large {
			return 0
		}
		return 1
	case 4096:
		if large {
			return 1
		}
		return 3
	case 8192:
		if large {
			return 3
		}
		return 7
	case 16384:
		if large {
			return 7
		}
		return 15
	default:
		return 0
	}
}

// DSM is the highest allocation block number: total data blocks minus one.
func (d DiskDef) DSM() int {
	dataBytes := (d.Tracks - d.BootTrk) * d.SecTrk * d.SecLen
	return dataBytes/d.BlockSize - 1
}

// DRM is the highest directory entry number: maxdir minus one.
func (d DiskDef) DRM() int {
	return d.MaxDir - 1
}

func (d DiskDef) dirBlocks() int {
	entriesPerBlock := d.BlockSize / 32
	return (d.MaxDir + entriesPerBlock - 1) / entriesPerBlock
}

// AL0 is the first byte of the directory allocation bitmap.
func (d DiskDef) AL0() int {
	blocks := d.dirBlocks()
	if blocks > 8 {
		blocks = 8
	}
	al := 0
	for i := 0; i < blocks; i++ {
		al |= 0x80 >> i
	}
	return al
}

// AL1 is the second byte of the directory allocation bitmap.
func (d DiskDef) AL1() int {
	blocks := d.dirBlocks()
	if blocks <= 8 {
		return 0
	}
	remaining := blocks - 8
	if remaining > 8 {
		remaining = 8
	}
	al := 0
	for i := 0; i < remaining; i++ {
		al |= 0x80 >> i
	}
	return al
}

// CKS is the checksum vector size: nonzero (tracking directory changes)
// for removable media under 1000 KiB, zero for anything larger.
func (d DiskDef) CKS() int {
	if d.CapacityKB() < 1000 {
		return (d.MaxDir + 3) / 4
	}
	return 0
}

// OFF is the reserved-track offset, equal to BootTrk.
func (d DiskDef) OFF() int {
	return d.BootTrk
}

// CapacityKB is the usable data-area capacity in KiB.
func (d DiskDef) CapacityKB() int {
	dataBytes := (d.Tracks - d.BootTrk) * d.SecTrk * d.SecLen
	return dataBytes / 1024
}

// TotalBytes is the full image size this definition implies.
func (d DiskDef) TotalBytes() int {
	return d.Tracks * d.SecTrk * d.SecLen
}

// IsValid reports whether the definition's fields are self-consistent and,
// for CP/M 2.2, within its 8 MiB addressing ceiling.
func (d DiskDef) IsValid() error {
	if d.Name == "" {
		return fmt.Errorf("diskdefs: definition has no name")
	}
	if d.SecLen < 128 || d.SecLen > 4096 {
		return fmt.Errorf("diskdefs: %s: seclen %d out of range [128,4096]", d.Name, d.SecLen)
	}
	if d.Tracks < 1 || d.Tracks > 65535 {
		return fmt.Errorf("diskdefs: %s: tracks %d out of range [1,65535]", d.Name, d.Tracks)
	}
	if d.SecTrk < 1 || d.SecTrk > 255 {
		return fmt.Errorf("diskdefs: %s: sectrk %d out of range [1,255]", d.Name, d.SecTrk)
	}
	if d.BlockSize < 1024 || d.BlockSize > 16384 {
		return fmt.Errorf("diskdefs: %s: blocksize %d out of range [1024,16384]", d.Name, d.BlockSize)
	}
	if d.MaxDir < 16 || d.MaxDir > 8192 {
		return fmt.Errorf("diskdefs: %s: maxdir %d out of range [16,8192]", d.Name, d.MaxDir)
	}
	if d.BootTrk < 0 || d.BootTrk >= d.Tracks {
		return fmt.Errorf("diskdefs: %s: boottrk %d out of range [0,%d)", d.Name, d.BootTrk, d.Tracks)
	}
	if d.OS == OSCPM22 && d.TotalBytes() > 8*1024*1024 {
		return fmt.Errorf("diskdefs: %s: %d bytes exceeds CP/M 2.2's 8 MiB ceiling", d.Name, d.TotalBytes())
	}
	return nil
}

// Describe renders a one-line human-readable summary.
func (d DiskDef) Describe() string {
	cap := d.CapacityKB()
	unit := "KB"
	capVal := cap
	if cap >= 1024 {
		capVal = cap / 1024
		unit = "MB"
	}
	return fmt.Sprintf("%s: %d%s, %d trk, %d sec/trk, %d bytes/sec, %d dir",
		d.Name, capVal, unit, d.Tracks, d.SecTrk, d.SecLen, d.MaxDir)
}

// BuildXLT builds the sector-translation table an explicit SkewTab
// overrides, a nonzero Skew generates, and no skew leaves as 1:1.
func (d DiskDef) BuildXLT() []int {
	xlt := make([]int, d.SecTrk)
	switch {
	case len(d.SkewTab) > 0:
		for i := 0; i < d.SecTrk && i < len(d.SkewTab); i++ {
			xlt[i] = d.SkewTab[i]
		}
	case d.Skew > 0:
		used := make([]bool, d.SecTrk)
		pos := 0
		for i := 0; i < d.SecTrk; i++ {
			for used[pos] {
				pos = (pos + 1) % d.SecTrk
			}
			xlt[i] = pos + 1
			used[pos] = true
			pos = (pos + d.Skew) % d.SecTrk
		}
	default:
		for i := 0; i < d.SecTrk; i++ {
			xlt[i] = i + 1
		}
	}
	return xlt
}
