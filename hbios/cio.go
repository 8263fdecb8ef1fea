package hbios

import "github.com/koron-go/z80"

// dispatchCIO services the character I/O group (0x00-0x0F). Unit selection
// in C is accepted but ignored beyond unit 0: this dispatcher models a
// single console device, matching bios's single-console assumption.
func (d *Dispatcher) dispatchCIO(cpu *z80.CPU, fn byte) error {
	switch fn {
	case FnCIOIN:
		return d.cioin(cpu)
	case FnCIOOUT:
		return d.cioout(cpu)
	case FnCIOIST:
		d.cioist(cpu)
		return nil
	case FnCIOOST:
		cpu.AF.Hi = ResultSuccess
		cpu.DE.Hi = 0xFF
		return nil
	case FnCIOINIT:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnCIOQUERY:
		cpu.AF.Hi = ResultSuccess
		cpu.HL.SetU16(1)
		return nil
	case FnCIODEVICE:
		cpu.AF.Hi = ResultSuccess
		cpu.DE.Hi = 0x01 // device type: serial/console
		cpu.DE.Lo = 0x00
		return nil
	default:
		cpu.AF.Hi = ResultFailed
		return nil
	}
}

// cioin dequeues one byte from the console ring into E, or reports the
// same starvation suspension BIOS CONIN uses: PC is left untouched so the
// trap refires once the front-end pushes a byte.
func (d *Dispatcher) cioin(cpu *z80.CPU) error {
	if d.Console.Empty() {
		return ErrInputStarved
	}
	cpu.DE.Lo = d.Console.Pop()
	cpu.AF.Hi = ResultSuccess
	return nil
}

func (d *Dispatcher) cioout(cpu *z80.CPU) error {
	b := cpu.DE.Lo & 0x7F
	if d.Output != nil {
		if err := d.Output.Write(b); err != nil {
			cpu.AF.Hi = ResultFailed
			return nil
		}
	}
	cpu.AF.Hi = ResultSuccess
	return nil
}

func (d *Dispatcher) cioist(cpu *z80.CPU) {
	if d.Console.Empty() {
		cpu.AF.Hi = ResultSuccess
		cpu.DE.Hi = 0x00
	} else {
		cpu.AF.Hi = ResultSuccess
		cpu.DE.Hi = 0xFF
	}
}
