package hbios

import (
	"time"

	"github.com/koron-go/z80"
)

// dispatchRTC services the real-time-clock group (0x20-0x2F) from the host
// monotonic/wall clock; there is no emulated NVRAM hardware, so the NVRAM
// byte accessors operate on a small in-process scratch buffer and the block
// accessors report failure.
func (d *Dispatcher) dispatchRTC(cpu *z80.CPU, fn byte) error {
	switch fn {
	case FnRTCGETTIM:
		d.rtcGetTime(cpu)
		return nil
	case FnRTCSETTIM:
		// The host clock is authoritative; setting the guest-visible time
		// is accepted but has no effect.
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnRTCGETBYT:
		cpu.DE.Lo = d.rtcNVRAM(int(cpu.BC.Lo))
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnRTCSETBYT:
		d.setRTCNVRAM(int(cpu.BC.Lo), cpu.DE.Lo)
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnRTCGETBLK, FnRTCSETBLK:
		cpu.AF.Hi = ResultFailed // block NVRAM access is not modeled
		return nil
	case FnRTCGETALA, FnRTCSETALA:
		cpu.AF.Hi = ResultFailed // alarm hardware is not modeled
		return nil
	case FnRTCINIT:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnRTCQUERY:
		cpu.AF.Hi = ResultSuccess
		cpu.HL.SetU16(1)
		return nil
	case FnRTCDEVICE:
		cpu.AF.Hi = ResultSuccess
		cpu.DE.Hi = 0x20
		return nil
	default:
		cpu.AF.Hi = ResultFailed
		return nil
	}
}

// rtcGetTime writes a BCD-encoded sec,min,hour,day,month,year tuple to the
// six bytes at HL, mirroring RomWBW's RTC_GETTIME layout, and leaves A=0.
func (d *Dispatcher) rtcGetTime(cpu *z80.CPU) {
	now := time.Now()
	addr := cpu.HL.U16()
	d.Memory.Set(addr+0, toBCD(now.Second()))
	d.Memory.Set(addr+1, toBCD(now.Minute()))
	d.Memory.Set(addr+2, toBCD(now.Hour()))
	d.Memory.Set(addr+3, toBCD(now.Day()))
	d.Memory.Set(addr+4, toBCD(int(now.Month())))
	d.Memory.Set(addr+5, toBCD(now.Year()%100))
	cpu.AF.Hi = ResultSuccess
}

func toBCD(v int) byte {
	return byte((v/10)<<4 | (v % 10))
}

func (d *Dispatcher) rtcNVRAM(offset int) byte {
	if offset < 0 || offset >= len(d.nvram) {
		return 0
	}
	return d.nvram[offset]
}

func (d *Dispatcher) setRTCNVRAM(offset int, value byte) {
	if offset < 0 || offset >= len(d.nvram) {
		return
	}
	d.nvram[offset] = value
}
