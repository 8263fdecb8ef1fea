package hbios

import "github.com/koron-go/z80"

// sndState tracks per-channel volume and period. No audio device is
// modeled, and the state is kept inside the dispatcher with no accessor.
type sndState struct {
	volume   [4]byte
	period   [4]uint16
	duration uint16
}

// dispatchSND services the sound group (0x50-0x58).
func (d *Dispatcher) dispatchSND(cpu *z80.CPU, fn byte) error {
	switch fn {
	case FnSNDRESET:
		d.snd = sndState{duration: 100}
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSNDVOL:
		ch := int(cpu.BC.Lo)
		if ch >= 0 && ch < len(d.snd.volume) {
			d.snd.volume[ch] = cpu.DE.Lo
		}
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSNDPER:
		ch := int(cpu.BC.Lo)
		if ch >= 0 && ch < len(d.snd.period) {
			d.snd.period[ch] = cpu.HL.U16()
		}
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSNDNOTE:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSNDPLAY:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSNDQUERY:
		cpu.AF.Hi = ResultSuccess
		cpu.HL.SetU16(0) // no sound device present
		return nil
	case FnSNDDUR:
		d.snd.duration = cpu.HL.U16()
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnSNDDEVICE:
		cpu.AF.Hi = ResultFailed
		return nil
	case FnSNDBEEP:
		cpu.AF.Hi = ResultSuccess
		return nil
	default:
		cpu.AF.Hi = ResultFailed
		return nil
	}
}
