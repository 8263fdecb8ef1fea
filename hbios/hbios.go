// Package hbios implements the RomWBW Hardware BIOS API: a single trap
// address multiplexed by a function code in the B register into seven
// device-class handler groups, plus the signal-port state machine guest
// firmware uses to publish (for tracing only) its own per-class dispatch
// addresses.
package hbios

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/koron-go/z80"

	"github.com/romwbw/cpmcore/console"
	"github.com/romwbw/cpmcore/diskimage"
	"github.com/romwbw/cpmcore/memory"
)

// Result codes left in A after a handled call.
const (
	ResultSuccess = 0x00
	ResultFailed  = 0xFF
	ResultPending = 0xFE
	ResultNoData  = 0xFD
)

// Function codes, grouped by device class. Names and values mirror RomWBW's
// own HBIOS API numbering.
const (
	FnCIOIN     = 0x00
	FnCIOOUT    = 0x01
	FnCIOIST    = 0x02
	FnCIOOST    = 0x03
	FnCIOINIT   = 0x04
	FnCIOQUERY  = 0x05
	FnCIODEVICE = 0x06

	FnDIOSTATUS = 0x10
	FnDIORESET  = 0x11
	FnDIOREAD   = 0x12
	FnDIOWRITE  = 0x13
	FnDIOVERIFY = 0x14
	FnDIOSENSE  = 0x15
	FnDIOCAP    = 0x16
	FnDIOGEOM   = 0x17
	FnDIOINIT   = 0x18
	FnDIOQUERY  = 0x19
	FnDIODEVICE = 0x1A
	FnDIOFORMAT = 0x1B

	FnRTCGETTIM = 0x20
	FnRTCSETTIM = 0x21
	FnRTCGETBYT = 0x22
	FnRTCSETBYT = 0x23
	FnRTCGETBLK = 0x24
	FnRTCSETBLK = 0x25
	FnRTCGETALA = 0x26
	FnRTCSETALA = 0x27
	FnRTCINIT   = 0x28
	FnRTCQUERY  = 0x29
	FnRTCDEVICE = 0x2A

	FnDSKYRESET  = 0x30
	FnDSKYSTATUS = 0x31
	FnDSKYGETKEY = 0x32
	FnDSKYSETLEDS = 0x33
	FnDSKYSETHEX = 0x34
	FnDSKYSETSEG = 0x35
	FnDSKYBEEP   = 0x36
	FnDSKYINIT   = 0x38
	FnDSKYQUERY  = 0x39
	FnDSKYDEVICE = 0x3A

	FnVDAINIT   = 0x40
	FnVDAQUERY  = 0x41
	FnVDARESET  = 0x42
	FnVDADEVICE = 0x43
	FnVDASCS    = 0x44
	FnVDASCP    = 0x45
	FnVDASAT    = 0x46
	FnVDASCO    = 0x47
	FnVDAWRC    = 0x48
	FnVDAFIL    = 0x49
	FnVDACPY    = 0x4A
	FnVDASCR    = 0x4B
	FnVDAKST    = 0x4C
	FnVDAKFL    = 0x4D
	FnVDAKRD    = 0x4E
	FnVDARDC    = 0x4F

	FnSNDRESET  = 0x50
	FnSNDVOL    = 0x51
	FnSNDPER    = 0x52
	FnSNDNOTE   = 0x53
	FnSNDPLAY   = 0x54
	FnSNDQUERY  = 0x55
	FnSNDDUR    = 0x56
	FnSNDDEVICE = 0x57
	FnSNDBEEP   = 0x58

	FnSYSRESET  = 0xF0
	FnSYSVER    = 0xF1
	FnSYSSETBNK = 0xF2
	FnSYSGETBNK = 0xF3
	FnSYSSETCPY = 0xF4
	FnSYSBNKCPY = 0xF5
	FnSYSALLOC  = 0xF6
	FnSYSFREE   = 0xF7
	FnSYSGET    = 0xF8
	FnSYSSET    = 0xF9
	FnSYSPEEK   = 0xFA
	FnSYSPOKE   = 0xFB
	FnSYSINT    = 0xFC
	FnSYSBOOT   = 0xFE
)

// SYSGET/SYSSET subfunctions, selected by the C register.
const (
	SysGetCIOCnt   = 0x00
	SysGetCIODev   = 0x01
	SysGetDIOCnt   = 0x10
	SysGetDIODev   = 0x11
	SysGetRTCCnt   = 0x20
	SysGetRTCDev   = 0x21
	SysGetVDACnt   = 0x40
	SysGetVDADev   = 0x41
	SysGetSNDCnt   = 0x50
	SysGetSNDDev   = 0x51
	SysGetTimer    = 0xD0
	SysGetSecs     = 0xD1
	SysGetBootInfo = 0xD2
	SysGetCPUInfo  = 0xF0
	SysGetMemInfo  = 0xF1
	SysGetBnkInfo  = 0xF2
)

// MaxDiskUnits bounds the HBIOS disk-unit table.
const MaxDiskUnits = 16

// Version is reported by SYSVER: 0x35 means 3.5.
const (
	VersionMajorMinor = 0x35
	VersionBuild      = 0x00
)

// DefaultMainEntry is the trap address servicing the whole API when no
// override is configured.
const DefaultMainEntry = 0xFFF0

// Sentinel control-flow errors.
var (
	ErrInputStarved = errors.New("hbios: console input ring empty")
	// ErrSysBoot is returned by SYSBOOT to ask the session to kick off a
	// boot from the requested device or ROM application.
	ErrSysBoot = errors.New("hbios: boot requested")
)

// BootRequest describes the target of a SYSBOOT call.
type BootRequest struct {
	RomAppKey byte // nonzero selects a registered ROM application by key
	DiskUnit  int  // otherwise, boot from this disk unit
}

// RomApp is a boot-menu entry the host registers ahead of time; SYSBOOT
// resolves a requested key against this table.
type RomApp struct {
	Name string
	Key  byte
	Sys  []byte
}

// ResetFunc performs a SYSRESET: switch to ROM bank 0, flush console input,
// and set PC to 0. The session supplies this since only it owns the CPU.
type ResetFunc func(cpu *z80.CPU, resetType byte)

// Dispatcher owns all HBIOS device-class state: the seven handler groups'
// scratch state, the disk-unit table, the signal-port state machine, and
// the last SYSBOOT request for the session to act on.
type Dispatcher struct {
	Memory  *memory.Memory
	Console *console.Ring
	Output  console.Output

	MainEntry uint16

	units [MaxDiskUnits]*DiskUnit
	romApps []RomApp

	curBank uint8
	copySrc copyParams

	signal signalState

	vda vdaState

	snd sndState

	dsky dskyState

	nvram [256]byte

	resetFn ResetFunc

	pendingBoot *BootRequest

	startedAt time.Time

	logger *slog.Logger
}

type copyParams struct {
	srcBank, dstBank     uint8
	srcAddr, dstAddr     uint16
	length               uint16
}

// New returns a Dispatcher with its trap anchored at the default main
// entry. The caller mounts disk units and registers ROM apps before the
// first dispatch.
func New(logger *slog.Logger, mem *memory.Memory) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Memory:    mem,
		Console:   console.NewRing(),
		MainEntry: DefaultMainEntry,
		vda:       newVDAState(),
		startedAt: time.Now(),
		logger:    logger,
	}
}

// Install writes the HBIOS presence signature a guest probes for: 'W',
// ~'W', version at 0xFF00 and a duplicate at 0xFE00 in the common bank,
// plus a pointer to the first signature at 0xFFFC.
func (d *Dispatcher) Install() {
	d.writeIdentBlock(0xFF00)
	d.writeIdentBlock(0xFE00)
	d.Memory.SetU16(0xFFFC, 0xFF00)
}

func (d *Dispatcher) writeIdentBlock(addr uint16) {
	d.Memory.Set(addr+0, 'W')
	d.Memory.Set(addr+1, ^byte('W'))
	d.Memory.Set(addr+2, VersionMajorMinor)
}

// PatchAPIType forces the HCB APITYPE byte at ROM offset 0x0112 to 0x00
// (HBIOS) rather than 0xFF (UNA), so guest firmware that probes this byte
// to self-identify its API family sees HBIOS. Called once when a ROM image
// is loaded.
func PatchAPIType(mem *memory.Memory) {
	const apiTypeOffset = 0x0112
	// WriteBank ignores ROM banks, so the image is patched and reloaded.
	size := mem.ROMBankCount() * memory.BankSize
	if size <= apiTypeOffset {
		return
	}
	rom := make([]byte, size)
	for i := range rom {
		rom[i] = mem.ReadBank(uint8(i/memory.BankSize), uint16(i%memory.BankSize))
	}
	rom[apiTypeOffset] = 0x00
	_ = mem.LoadROM(rom)
}

// SetResetCallback registers the function SYSRESET invokes.
func (d *Dispatcher) SetResetCallback(fn ResetFunc) { d.resetFn = fn }

// MountUnit installs backend as HBIOS disk unit n.
func (d *Dispatcher) MountUnit(n int, backend diskimage.Backend) error {
	if n < 0 || n >= MaxDiskUnits {
		return fmt.Errorf("hbios: disk unit %d out of range [0,%d)", n, MaxDiskUnits)
	}
	d.units[n] = &DiskUnit{Backend: backend}
	return nil
}

// RegisterRomApp adds a boot-menu entry SYSBOOT can later resolve by key.
func (d *Dispatcher) RegisterRomApp(app RomApp) {
	d.romApps = append(d.romApps, app)
}

// IsTrap reports whether pc is the configured main entry.
func (d *Dispatcher) IsTrap(pc uint16) bool {
	return pc == d.MainEntry
}

// Dispatch services the call named by cpu.B, routing into one of the seven
// device-class groups by function-code prefix. It never touches PC/SP
// itself; only SYSRESET's reset callback sets PC. The caller simulates RET
// afterwards, except after SYSRESET or when Dispatch returns
// ErrInputStarved or ErrSysBoot.
func (d *Dispatcher) Dispatch(cpu *z80.CPU) error {
	fn := cpu.BC.Hi
	switch {
	case fn <= 0x0F:
		return d.dispatchCIO(cpu, fn)
	case fn >= 0x10 && fn <= 0x1F:
		return d.dispatchDIO(cpu, fn)
	case fn >= 0x20 && fn <= 0x2F:
		return d.dispatchRTC(cpu, fn)
	case fn >= 0x30 && fn <= 0x3A:
		return d.dispatchDSKY(cpu, fn)
	case fn >= 0x40 && fn <= 0x4F:
		return d.dispatchVDA(cpu, fn)
	case fn >= 0x50 && fn <= 0x58:
		return d.dispatchSND(cpu, fn)
	case fn >= 0xF0:
		return d.dispatchSYS(cpu, fn)
	default:
		d.logger.Warn("hbios: unknown function", "fn", fn)
		cpu.AF.Hi = ResultFailed
		return nil
	}
}

// signalState is the port-0xEE protocol: either a one-byte lifecycle
// sentinel, or a three-byte sequence registering a per-class dispatch
// address (class byte, then address low, then address high; the address is
// recorded when the high byte arrives). These addresses are recorded for tracing only; Dispatch never
// routes through them.
type signalState struct {
	phase byte // 0 idle, 1 expecting addr-low, 2 expecting addr-high

	pendingClass byte
	pendingAddr  uint16

	cio, dio, rtc, sys, vda, snd uint16

	lifecycle byte // last lifecycle sentinel observed
}

// HandleSignalPort processes a guest write to I/O port 0xEE.
func (d *Dispatcher) HandleSignalPort(value byte) {
	s := &d.signal
	switch value {
	case 0x01, 0xFE, 0xFF:
		s.lifecycle = value
		s.phase = 0
		return
	}

	switch s.phase {
	case 0:
		s.pendingClass = value
		s.phase = 1
	case 1:
		s.pendingAddr = uint16(value)
		s.phase = 2
	case 2:
		s.pendingAddr |= uint16(value) << 8
		d.recordDispatchAddr(s.pendingClass, s.pendingAddr)
		s.phase = 0
	}
}

func (d *Dispatcher) recordDispatchAddr(class byte, addr uint16) {
	switch class {
	case 0:
		d.signal.cio = addr
	case 1:
		d.signal.dio = addr
	case 2:
		d.signal.rtc = addr
	case 3:
		d.signal.sys = addr
	case 4:
		d.signal.vda = addr
	case 5:
		d.signal.snd = addr
	}
}

// DispatchAddrs returns the six recorded dispatch addresses, for debug
// traces only.
func (d *Dispatcher) DispatchAddrs() (cio, dio, rtc, sys, vda, snd uint16) {
	return d.signal.cio, d.signal.dio, d.signal.rtc, d.signal.sys, d.signal.vda, d.signal.snd
}

// Lifecycle returns the last lifecycle sentinel the guest wrote to the
// signal port (0x01 starting, 0xFE preinit, 0xFF init-complete, 0 if none
// yet).
func (d *Dispatcher) Lifecycle() byte { return d.signal.lifecycle }
