package hbios

import (
	"time"

	"github.com/koron-go/z80"
)

// dispatchSYS services the system group (0xF0-0xFF).
func (d *Dispatcher) dispatchSYS(cpu *z80.CPU, fn byte) error {
	switch fn {
	case FnSYSRESET:
		d.sysReset(cpu)
		return nil
	case FnSYSVER:
		cpu.HL.Lo = VersionMajorMinor
		cpu.HL.Hi = VersionBuild
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSYSSETBNK:
		d.curBank = cpu.DE.Lo
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSYSGETBNK:
		cpu.DE.Lo = d.curBank
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSYSSETCPY:
		d.copySrc.srcBank = cpu.DE.Hi
		d.copySrc.dstBank = cpu.DE.Lo
		d.copySrc.srcAddr = cpu.HL.U16()
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSYSBNKCPY:
		d.sysBnkCpy(cpu)
		return nil
	case FnSYSALLOC, FnSYSFREE:
		cpu.AF.Hi = ResultFailed // dynamic bank allocation is not modeled
		return nil
	case FnSYSGET:
		d.sysGet(cpu)
		return nil
	case FnSYSSET:
		cpu.AF.Hi = ResultFailed // no mutable system settings are modeled
		return nil
	case FnSYSPEEK:
		cpu.DE.Lo = d.Memory.ReadBank(d.curBank, cpu.HL.U16())
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSYSPOKE:
		d.Memory.WriteBank(d.curBank, cpu.HL.U16(), cpu.DE.Lo)
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSYSINT:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSYSBOOT:
		return d.sysBoot(cpu)
	default:
		cpu.AF.Hi = ResultFailed
		return nil
	}
}

func (d *Dispatcher) sysReset(cpu *z80.CPU) {
	resetType := cpu.BC.Lo
	if d.resetFn != nil {
		d.resetFn(cpu, resetType)
	}
	cpu.AF.Hi = ResultSuccess
}

// sysBnkCpy copies cpu.DE (count) bytes from the bank/address pair
// established by a prior SYSSETCPY to (d.copySrc.dstBank, cpu.HL).
func (d *Dispatcher) sysBnkCpy(cpu *z80.CPU) {
	dstAddr := cpu.HL.U16()
	count := cpu.DE.U16()
	for i := uint16(0); i < count; i++ {
		b := d.Memory.ReadBank(d.copySrc.srcBank, d.copySrc.srcAddr+i)
		d.Memory.WriteBank(d.copySrc.dstBank, dstAddr+i, b)
	}
	cpu.AF.Hi = ResultSuccess
}

func (d *Dispatcher) sysGet(cpu *z80.CPU) {
	switch cpu.BC.Lo {
	case SysGetCIOCnt:
		cpu.HL.SetU16(1)
	case SysGetDIOCnt:
		cpu.HL.SetU16(uint16(d.mountedUnitCount()))
	case SysGetRTCCnt:
		cpu.HL.SetU16(1)
	case SysGetVDACnt:
		cpu.HL.SetU16(1)
	case SysGetSNDCnt:
		cpu.HL.SetU16(0)
	case SysGetTimer:
		ms := time.Since(d.startedAt).Milliseconds()
		cpu.HL.SetU16(uint16(ms & 0xFFFF))
		cpu.DE.SetU16(uint16((ms >> 16) & 0xFFFF))
	case SysGetSecs:
		s := int64(time.Since(d.startedAt).Seconds())
		cpu.HL.SetU16(uint16(s & 0xFFFF))
		cpu.DE.SetU16(uint16((s >> 16) & 0xFFFF))
	case SysGetBootInfo:
		cpu.DE.Hi = 0x00 // disk boot
		cpu.DE.Lo = 0x00 // unit 0
	case SysGetCPUInfo:
		cpu.DE.Lo = 0x02 // CPU type: Z80
		cpu.HL.SetU16(0x2710) // nominal clock speed in KHz (10 MHz)
	case SysGetMemInfo:
		cpu.HL.SetU16(uint16(d.ramBankCount() * 32)) // KiB of RAM
		cpu.DE.Lo = byte(d.romBankCount())
	case SysGetBnkInfo:
		cpu.HL.SetU16(uint16(d.curBank))
	default:
		cpu.AF.Hi = ResultFailed
		return
	}
	cpu.AF.Hi = ResultSuccess
}

func (d *Dispatcher) mountedUnitCount() int {
	n := 0
	for _, u := range d.units {
		if u != nil {
			n++
		}
	}
	return n
}

func (d *Dispatcher) ramBankCount() int { return d.Memory.RAMBankCount() }
func (d *Dispatcher) romBankCount() int { return d.Memory.ROMBankCount() }

// sysBoot is the custom back-door that asks the session to kick off a
// boot from a registered ROM application (when E names a key) or a disk
// unit (C). It never completes the call normally: the session interprets
// ErrSysBoot and relocates PC itself, the same way bios.ErrColdBoot works.
func (d *Dispatcher) sysBoot(cpu *z80.CPU) error {
	req := BootRequest{DiskUnit: int(cpu.BC.Lo)}
	if key := cpu.DE.Lo; key != 0 {
		req.RomAppKey = key
	}
	d.pendingBoot = &req
	return ErrSysBoot
}

// PendingBoot returns and clears the last SYSBOOT request, for the
// session loop to act on after Dispatch returns ErrSysBoot.
func (d *Dispatcher) PendingBoot() *BootRequest {
	req := d.pendingBoot
	d.pendingBoot = nil
	return req
}

// FindRomApp resolves a SYSBOOT key against the registered ROM application
// table.
func (d *Dispatcher) FindRomApp(key byte) (RomApp, bool) {
	for _, app := range d.romApps {
		if app.Key == key {
			return app, true
		}
	}
	return RomApp{}, false
}
