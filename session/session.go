// Package session implements the front-end ABI: it owns the z80 CPU, the
// banked memory, the BIOS and HBIOS dispatchers, and the breakpoint-driven
// execution loop that routes a trapped PC to whichever dispatcher claims
// it, mirroring how the teacher's cpm.CPM.Execute loop routes a breakpoint
// at 0x0005 to a BDOS syscall table.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/koron-go/z80"

	"github.com/romwbw/cpmcore/bios"
	"github.com/romwbw/cpmcore/boot"
	"github.com/romwbw/cpmcore/console"
	"github.com/romwbw/cpmcore/diskimage"
	"github.com/romwbw/cpmcore/hbios"
	"github.com/romwbw/cpmcore/memory"
)

// Sentinel errors the run loop returns to the front-end. ErrHalted and
// ErrBootRequested are expected outcomes, not failures.
var (
	// ErrHalted reports that the guest executed HALT.
	ErrHalted = errors.New("session: halted")

	// ErrBootRequested reports that HBIOS SYSBOOT asked for a boot the
	// session can't resolve on its own (no unit mounted, no matching ROM
	// app); the front-end decides what to do.
	ErrBootRequested = errors.New("session: boot requested for unresolved target")
)

// Option configures a Session at construction.
type Option func(*Session)

// WithDebug enables verbose trap-level logging.
func WithDebug(debug bool) Option {
	return func(s *Session) { s.debug = debug }
}

// WithRAMBanks overrides the default RAM bank count.
func WithRAMBanks(n int) Option {
	return func(s *Session) { s.ramBanks = n }
}

// Session is the emulator core's front-end handle: one z80 CPU, one banked
// address space, and the two firmware dispatchers that service its traps.
type Session struct {
	logger *slog.Logger

	CPU    *z80.CPU
	Memory *memory.Memory
	BIOS   *bios.Dispatcher
	HBIOS  *hbios.Dispatcher

	Output console.Output

	layout        boot.Layout
	haveLayout    bool
	memoryImage   []byte
	bootBackend   diskimage.Backend
	waitingInput  bool
	debug         bool
	ramBanks      int
	pendingBootFn func(req hbios.BootRequest) error
}

// New constructs a Session with its memory, BIOS, and HBIOS dispatchers
// wired together, following the teacher's cpm.New constructor pattern:
// allocate state, then let the caller load ROM/disk images before running.
func New(logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{logger: logger, ramBanks: memory.MaxRAMBanks}
	for _, opt := range opts {
		opt(s)
	}

	s.Memory = memory.New(logger, s.ramBanks)
	s.BIOS = bios.New(logger, s.Memory, 0xFE00)
	s.HBIOS = hbios.New(logger, s.Memory)
	s.HBIOS.SetResetCallback(s.handleReset)

	s.CPU = &z80.CPU{
		Memory: s.Memory,
		IO:     s,
	}
	s.CPU.BreakPoints = map[uint16]struct{}{}
	s.armBreakpoints()

	return s
}

// armBreakpoints rebuilds the z80.CPU breakpoint set from scratch: the
// BIOS trap range and the HBIOS main entry. Rebuilding rather than adding
// avoids leaving a stale breakpoint behind at the old BIOS trap base after
// the boot loader relocates it.
func (s *Session) armBreakpoints() {
	s.CPU.BreakPoints = map[uint16]struct{}{}
	for n := 0; n < bios.NumFunctions; n++ {
		s.CPU.BreakPoints[s.BIOS.TrapBase+uint16(n)] = struct{}{}
	}
	s.CPU.BreakPoints[s.HBIOS.MainEntry] = struct{}{}
}

// LoadROM installs rom as the banked ROM image, enables banking, and
// applies the HCB APITYPE patch so guest firmware self-identifies as
// HBIOS rather than UNA.
func (s *Session) LoadROM(rom []byte) error {
	if err := s.Memory.LoadROM(rom); err != nil {
		return err
	}
	hbios.PatchAPIType(s.Memory)
	s.HBIOS.Install()
	return nil
}

// LoadSystemBytes writes a bare CCP+BDOS memory image (as produced by
// MOVCPM) into guest memory and boots from it, bypassing disk entirely.
func (s *Session) LoadSystemBytes(image []byte) error {
	s.memoryImage = image
	report, err := boot.ColdBootFromMemory(s.CPU, s.Memory, s.BIOS, image)
	if err != nil {
		return fmt.Errorf("session: loading system image: %w", err)
	}
	s.layout = report.Layout
	s.haveLayout = true
	s.armBreakpoints()
	s.logger.Info("session: cold boot from memory image",
		"variant", report.Variant, "ccp_base", fmt.Sprintf("0x%04X", report.Layout.CCPBase))
	return nil
}

// MountDiskUnit mounts backend as both a BIOS drive (unit, A=0..) and the
// matching HBIOS disk unit, since both dispatchers address the same
// physical media under their own conventions.
func (s *Session) MountDiskUnit(unit int, drive *bios.Drive) error {
	if err := s.BIOS.MountDrive(unit, drive); err != nil {
		return err
	}
	return s.HBIOS.MountUnit(unit, drive.Backend)
}

// LoadDiskBytes is a convenience wrapper the front-end ABI names
// explicitly: mount a disk unit given an already-opened backend plus the
// boot disk's backend used for cold/warm boot.
func (s *Session) LoadDiskBytes(unit int, drive *bios.Drive, isBootUnit bool) error {
	if err := s.MountDiskUnit(unit, drive); err != nil {
		return err
	}
	if isBootUnit {
		s.bootBackend = drive.Backend
	}
	return nil
}

// ColdBootFromDisk runs the CCP signature scan against the mounted boot
// backend and relocates PC/SP to the discovered CCP base.
func (s *Session) ColdBootFromDisk(backend diskimage.Backend) (*boot.BootReport, error) {
	report, err := boot.ColdBootFromDisk(s.CPU, s.Memory, s.BIOS, backend)
	if err != nil {
		return nil, err
	}
	s.layout = report.Layout
	s.haveLayout = true
	s.bootBackend = backend
	s.armBreakpoints()
	s.logger.Info("session: cold boot from disk",
		"variant", report.Variant,
		"header_ccp_base", fmt.Sprintf("0x%04X", report.HeaderCCPBase),
		"code_ccp_base", fmt.Sprintf("0x%04X", report.CodeCCPBase),
		"used_code_base", report.UsedCodeBase)
	return report, nil
}

// PushInput feeds one byte into the console input ring, resuming a session
// suspended on input starvation the next time RunUntilIdle is called.
func (s *Session) PushInput(b byte) {
	s.BIOS.Console.Push(b)
	s.HBIOS.Console.Push(b)
}

// WaitingForInput reports whether the last RunUntilIdle call suspended on
// an empty console input ring.
func (s *Session) WaitingForInput() bool { return s.waitingInput }

// SetOutput installs out as the character-output sink for both the BIOS
// CONOUT handler and the HBIOS CIOOUT/VDAWRC handlers, which each hold
// their own Output field rather than sharing the session's.
func (s *Session) SetOutput(out console.Output) {
	s.Output = out
	s.BIOS.Output = out
	s.HBIOS.Output = out
}

// SetDebug toggles verbose trap logging.
func (s *Session) SetDebug(debug bool) { s.debug = debug }

// Debug reports the current debug flag.
func (s *Session) Debug() bool { return s.debug }

// RegisterRomApp forwards to the HBIOS dispatcher's boot-menu table.
func (s *Session) RegisterRomApp(app hbios.RomApp) { s.HBIOS.RegisterRomApp(app) }

// SetBootResolver installs the callback RunUntilIdle invokes when HBIOS
// SYSBOOT names a target the session itself can't resolve (e.g. a disk
// unit with no mounted backend); the front-end decides how to load it.
func (s *Session) SetBootResolver(fn func(req hbios.BootRequest) error) {
	s.pendingBootFn = fn
}

// RunUntilIdle runs the CPU until it halts, suspends on input starvation,
// or a boot request needs front-end attention. It returns nil only when it
// suspends on input starvation; every other exit returns an error. This
// mirrors the teacher's Execute loop structure: run until
// z80.ErrBreakPoint, route the trap to a handler, simulate RET, repeat.
func (s *Session) RunUntilIdle(ctx context.Context) error {
	s.waitingInput = false

	for {
		var err error
		if _, onTrap := s.CPU.BreakPoints[s.CPU.PC]; onTrap {
			// PC already sits on a breakpoint (a trap left unserviced by
			// input starvation, or a boot that moved PC onto one): service
			// it directly instead of handing it to cpu.Run first.
			err = z80.ErrBreakPoint
		} else {
			err = runProtected(s.CPU, ctx)
		}

		if err == nil {
			return ErrHalted
		}
		if !errors.Is(err, z80.ErrBreakPoint) {
			var wp memory.WriteProtectViolation
			if errors.As(err, &wp) {
				return fmt.Errorf("session: %w", wp)
			}
			return fmt.Errorf("session: unexpected CPU error: %w", err)
		}

		if err := s.handleTrap(); err != nil {
			if errors.Is(err, bios.ErrInputStarved) || errors.Is(err, hbios.ErrInputStarved) {
				s.waitingInput = true
				return nil
			}
			if errors.Is(err, bios.ErrColdBoot) {
				if !s.haveLayout {
					return fmt.Errorf("session: cold boot requested with no known CCP layout")
				}
				boot.ColdBoot(s.CPU, s.layout)
				continue
			}
			if errors.Is(err, bios.ErrWarmBoot) {
				if !s.haveLayout {
					return fmt.Errorf("session: warm boot requested with no known CCP layout")
				}
				if err := boot.WarmBoot(s.CPU, s.Memory, s.BIOS, s.layout, s.bootBackend, s.memoryImage); err != nil {
					return fmt.Errorf("session: warm boot: %w", err)
				}
				continue
			}
			if errors.Is(err, hbios.ErrSysBoot) {
				if resolveErr := s.resolveSysBoot(); resolveErr != nil {
					return resolveErr
				}
				continue
			}
			return err
		}
	}
}

// runProtected calls cpu.Run and converts a memory.WriteProtectViolation
// panic into a returned error, per the fatal-write-protect error path.
func runProtected(cpu *z80.CPU, ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if wp, ok := r.(memory.WriteProtectViolation); ok {
				err = wp
				return
			}
			panic(r)
		}
	}()
	return cpu.Run(ctx)
}

// handleTrap dispatches the breakpoint PC landed on to whichever
// dispatcher owns it, then simulates RET unless the handler returned a
// sentinel the caller must act on directly.
func (s *Session) handleTrap() error {
	pc := s.CPU.PC

	if index, ok := s.BIOS.IsTrap(pc); ok {
		if err := s.BIOS.Dispatch(s.CPU, index); err != nil {
			return err
		}
		s.simulateRet()
		return nil
	}

	if s.HBIOS.IsTrap(pc) {
		fn := s.CPU.BC.Hi
		if err := s.HBIOS.Dispatch(s.CPU); err != nil {
			return err
		}
		// SYSRESET has already set PC to 0 through handleReset; a RET would
		// overwrite it.
		if fn != hbios.FnSYSRESET {
			s.simulateRet()
		}
		return nil
	}

	return fmt.Errorf("session: breakpoint at unowned address 0x%04X", pc)
}

// simulateRet pops the return address BIOS/HBIOS handlers leave untouched
// on the stack and resumes execution there, exactly as cpm.CPM.Execute does
// after invoking a BDOS syscall handler.
func (s *Session) simulateRet() {
	s.CPU.PC = s.Memory.GetU16(s.CPU.SP)
	s.CPU.SP += 2
}

// handleReset implements the HBIOS SYSRESET contract: bank 0 selected, the
// console input ring flushed, and PC set to 0 so the next RunUntilIdle call
// re-enters the guest's own reset vector.
func (s *Session) handleReset(cpu *z80.CPU, resetType byte) {
	s.Memory.SelectBank(0)
	for !s.BIOS.Console.Empty() {
		s.BIOS.Console.Pop()
	}
	for !s.HBIOS.Console.Empty() {
		s.HBIOS.Console.Pop()
	}
	cpu.PC = 0
	s.logger.Info("session: HBIOS reset", "type", resetType)
}

// resolveSysBoot acts on the HBIOS SYSBOOT request it just intercepted: a
// ROM app key boots that app's bytes as a memory image; a disk unit with a
// mounted backend runs a fresh cold boot against it. Anything else is
// handed to the front-end's resolver, if one was registered.
func (s *Session) resolveSysBoot() error {
	req := s.HBIOS.PendingBoot()
	if req == nil {
		return fmt.Errorf("session: SYSBOOT fired with no pending request")
	}

	if req.RomAppKey != 0 {
		if app, ok := s.HBIOS.FindRomApp(req.RomAppKey); ok {
			return s.LoadSystemBytes(app.Sys)
		}
	}

	if backend := s.HBIOS.DiskBackend(req.DiskUnit); backend != nil {
		_, err := s.ColdBootFromDisk(backend)
		return err
	}

	if s.pendingBootFn != nil {
		return s.pendingBootFn(*req)
	}

	return ErrBootRequested
}

// In services a guest IN instruction. Only port 0xEE (the HBIOS signal
// port) is write-only by design; reads return 0, mirroring the teacher's
// unimplemented-port default.
func (s *Session) In(addr uint8) uint8 {
	s.logger.Debug("session: I/O IN", "port", addr)
	return 0
}

// Out services a guest OUT instruction, routing port 0xEE to the HBIOS
// signal-port state machine and dropping everything else.
func (s *Session) Out(addr uint8, val uint8) {
	if addr == 0xEE {
		s.HBIOS.HandleSignalPort(val)
	}
}
