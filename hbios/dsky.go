package hbios

import "github.com/koron-go/z80"

// dskyState tracks the front-panel LED/segment display a DSKY device
// would drive; no physical hardware is modeled, so these are just the
// last values the guest wrote, kept inside the dispatcher with no accessor.
type dskyState struct {
	leds    byte
	hex     byte
	segs    [8]byte
}

// dispatchDSKY services the front-panel keypad/display group (0x30-0x3A).
// Without physical hardware, key-read functions report no data rather
// than blocking.
func (d *Dispatcher) dispatchDSKY(cpu *z80.CPU, fn byte) error {
	switch fn {
	case FnDSKYRESET:
		d.dsky = dskyState{}
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnDSKYSTATUS:
		cpu.AF.Hi = ResultSuccess
		cpu.DE.Hi = 0x00 // no key pending
		return nil
	case FnDSKYGETKEY:
		cpu.AF.Hi = ResultNoData
		return nil
	case FnDSKYSETLEDS:
		d.dsky.leds = cpu.DE.Lo
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnDSKYSETHEX:
		d.dsky.hex = cpu.DE.Lo
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnDSKYSETSEG:
		idx := int(cpu.BC.Lo)
		if idx >= 0 && idx < len(d.dsky.segs) {
			d.dsky.segs[idx] = cpu.DE.Lo
		}
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnDSKYBEEP:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnDSKYINIT:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnDSKYQUERY:
		cpu.AF.Hi = ResultSuccess
		cpu.HL.SetU16(0) // no DSKY device present
		return nil
	case FnDSKYDEVICE:
		cpu.AF.Hi = ResultFailed
		return nil
	default:
		cpu.AF.Hi = ResultFailed
		return nil
	}
}
