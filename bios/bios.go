// Package bios implements the seventeen-function CP/M BIOS trap dispatcher:
// the synthetic jump table at BiosBase, the per-drive DPB/DPH layout, and
// the native handlers that service a guest CALL into one of the table's
// entries.
package bios

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/koron-go/z80"

	"github.com/romwbw/cpmcore/console"
	"github.com/romwbw/cpmcore/memory"
)

// NumFunctions is the size of the BIOS jump table.
const NumFunctions = 17

// Function indices, in jump-table order.
const (
	FnBoot = iota
	FnWBoot
	FnConst
	FnConin
	FnConout
	FnList
	FnPunch
	FnReader
	FnHome
	FnSelDsk
	FnSetTrk
	FnSetSec
	FnSetDMA
	FnRead
	FnWrite
	FnListSt
	FnSecTran
)

// Sentinel control-flow errors a dispatch may return; these are not
// failures, they tell the session loop how to continue.
var (
	ErrColdBoot     = errors.New("bios: cold boot requested")
	ErrWarmBoot     = errors.New("bios: warm boot requested")
	ErrInputStarved = errors.New("bios: console input ring empty")
)

// MaxDrives is the number of drives a BIOS-only session exposes (A..D).
const MaxDrives = 4

// Result codes returned in the A register by READ/WRITE.
const (
	StatusOK             = 0x00
	StatusError          = 0x01
	StatusWriteProtected = 0x02
)

// Dispatcher owns the BIOS trap table, the per-drive DPB/DPH layout, and
// the dispatch state (current drive/track/sector/DMA) the seventeen
// handlers read and mutate.
type Dispatcher struct {
	Memory  *memory.Memory
	Console *console.Ring
	Output  console.Output

	BiosBase uint16
	TrapBase uint16

	drives [MaxDrives]*Drive

	currentDrive int
	track        int
	sector       int // 1-based
	dma          uint16

	// loggedIn tracks which drives have been SELDSK'd at least once, so a
	// subsequent login with E bit 0 set (already logged in) can skip
	// reinitializing the allocation vector.
	loggedIn [MaxDrives]bool

	logger *slog.Logger
}

// New returns a Dispatcher with its jump table anchored at biosBase. The
// seventeen trap addresses follow the table directly, starting at
// biosBase+51.
func New(logger *slog.Logger, mem *memory.Memory, biosBase uint16) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Memory:   mem,
		Console:  console.NewRing(),
		BiosBase: biosBase,
		TrapBase: biosBase + 3*NumFunctions,
		dma:      0x0080,
		sector:   1,
		logger:   logger,
	}
}

// Install emits the seventeen-entry jump table at BiosBase, each entry
// jumping to a unique trap address, and writes the zero-page JP WBOOT /
// JP BDOS stubs the guest expects at 0x0000 and 0x0005.
func (d *Dispatcher) Install(bdosEntry uint16) {
	for n := 0; n < NumFunctions; n++ {
		entry := d.BiosBase + uint16(3*n)
		trap := d.TrapBase + uint16(n)
		d.Memory.Set(entry, 0xC3) // JP
		d.Memory.SetU16(entry+1, trap)
	}

	d.Memory.Set(0x0000, 0xC3)
	d.Memory.SetU16(0x0001, d.BiosBase+3) // WBOOT is function 1

	d.Memory.Set(0x0005, 0xC3)
	d.Memory.SetU16(0x0006, bdosEntry)
}

// Relocate moves the BIOS jump table and trap range to biosBase. The boot
// loader calls this once it has computed the runtime CCP/BDOS/BIOS layout;
// a subsequent Install writes the jump table at the new location.
func (d *Dispatcher) Relocate(biosBase uint16) {
	d.BiosBase = biosBase
	d.TrapBase = biosBase + 3*NumFunctions
}

// IsTrap reports whether pc lands in the trap range, and if so the
// function index it names.
func (d *Dispatcher) IsTrap(pc uint16) (int, bool) {
	if pc < d.TrapBase || pc >= d.TrapBase+uint16(NumFunctions) {
		return 0, false
	}
	return int(pc - d.TrapBase), true
}

// MountDrive installs drive as the given unit (0-based, A=0). It only
// records the drive; nothing is written into guest memory.
func (d *Dispatcher) MountDrive(unit int, drive *Drive) error {
	if unit < 0 || unit >= MaxDrives {
		return fmt.Errorf("bios: drive %d out of range [0,%d)", unit, MaxDrives)
	}
	d.drives[unit] = drive
	return nil
}

// Drive returns the mounted drive, if any.
func (d *Dispatcher) Drive(unit int) *Drive {
	if unit < 0 || unit >= MaxDrives {
		return nil
	}
	return d.drives[unit]
}

// Dispatch services the BIOS function named by index, using cpu's
// registers for parameters and results. The caller is responsible for
// simulating RET afterwards; Dispatch never touches PC or SP. BOOT/WBOOT
// return the ErrColdBoot/ErrWarmBoot sentinels instead of completing
// normally, and the caller performs the boot.
func (d *Dispatcher) Dispatch(cpu *z80.CPU, index int) error {
	switch index {
	case FnBoot:
		return d.boot(cpu)
	case FnWBoot:
		return d.warmBoot(cpu)
	case FnConst:
		return d.constStatus(cpu)
	case FnConin:
		return d.conin(cpu)
	case FnConout:
		return d.conout(cpu)
	case FnList:
		return d.list(cpu)
	case FnPunch:
		return d.punch(cpu)
	case FnReader:
		return d.reader(cpu)
	case FnHome:
		return d.home(cpu)
	case FnSelDsk:
		return d.selDsk(cpu)
	case FnSetTrk:
		return d.setTrk(cpu)
	case FnSetSec:
		return d.setSec(cpu)
	case FnSetDMA:
		return d.setDMA(cpu)
	case FnRead:
		return d.read(cpu)
	case FnWrite:
		return d.write(cpu)
	case FnListSt:
		return d.listSt(cpu)
	case FnSecTran:
		return d.secTran(cpu)
	default:
		d.logger.Warn("bios: unknown function index", "index", index)
		return fmt.Errorf("bios: unknown function index %d", index)
	}
}

// translateAndOffset maps the current logical track/sector to a physical
// (track, head, sector) coordinate, applying the drive's XLT. The track is
// passed through unchanged and the head is always 0.
func (d *Dispatcher) translateAndOffset(drv *Drive) (track, head, sector int) {
	physSector := drv.Translate(d.sector)
	return d.track, 0, physSector
}
