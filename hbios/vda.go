package hbios

import "github.com/koron-go/z80"

// vdaState is the cursor/attribute bookkeeping RomWBW's VDA API exposes.
// No glyph rendering is done anywhere in this module; this dispatcher
// tracks state and forwards character output to
// the same Output sink CONOUT/CIOOUT use, which is sufficient for guests
// that treat the VDA as a plain terminal.
type vdaState struct {
	rows, cols         int
	cursorRow, cursorCol int
	attr               byte
}

func newVDAState() vdaState {
	return vdaState{rows: 25, cols: 80, attr: 0x07}
}

// dispatchVDA services the video-display-adapter group (0x40-0x4F).
func (d *Dispatcher) dispatchVDA(cpu *z80.CPU, fn byte) error {
	switch fn {
	case FnVDAINIT:
		d.vda = newVDAState()
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnVDAQUERY:
		cpu.AF.Hi = ResultSuccess
		cpu.HL.SetU16(1)
		return nil
	case FnVDARESET:
		d.vda = newVDAState()
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnVDADEVICE:
		cpu.AF.Hi = ResultSuccess
		cpu.DE.Hi = 0x40
		cpu.HL.Hi = byte(d.vda.rows)
		cpu.HL.Lo = byte(d.vda.cols)
		return nil
	case FnVDASCS:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnVDASCP:
		d.vda.cursorRow = int(cpu.DE.Hi)
		d.vda.cursorCol = int(cpu.DE.Lo)
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnVDASAT:
		d.vda.attr = cpu.DE.Lo
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnVDASCO:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnVDAWRC:
		return d.vdaWrc(cpu)
	case FnVDAFIL, FnVDACPY, FnVDASCR:
		// Region fill/copy/scroll need a screen buffer a front-end owns;
		// this dispatcher accepts the call without effect.
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnVDAKST:
		cpu.AF.Hi = ResultSuccess
		if d.Console.Empty() {
			cpu.DE.Hi = 0x00
		} else {
			cpu.DE.Hi = 0xFF
		}
		return nil
	case FnVDAKFL:
		for !d.Console.Empty() {
			d.Console.Pop()
		}
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnVDAKRD:
		return d.vdaKrd(cpu)
	case FnVDARDC:
		cpu.AF.Hi = ResultFailed // reading back the screen buffer needs a front-end-owned grid
		return nil
	default:
		cpu.AF.Hi = ResultFailed
		return nil
	}
}

func (d *Dispatcher) vdaWrc(cpu *z80.CPU) error {
	b := cpu.DE.Lo
	if d.Output != nil {
		if err := d.Output.Write(b); err != nil {
			cpu.AF.Hi = ResultFailed
			return nil
		}
	}
	d.vda.cursorCol++
	if d.vda.cursorCol >= d.vda.cols {
		d.vda.cursorCol = 0
		d.vda.cursorRow++
	}
	cpu.AF.Hi = ResultSuccess
	return nil
}

// vdaKrd mirrors bios conin's suspension contract: on an empty ring it
// returns without touching PC so the trap refires.
func (d *Dispatcher) vdaKrd(cpu *z80.CPU) error {
	if d.Console.Empty() {
		return ErrInputStarved
	}
	cpu.DE.Lo = d.Console.Pop()
	cpu.AF.Hi = ResultSuccess
	return nil
}
