package bios

import (
	"github.com/koron-go/z80"
)

func (d *Dispatcher) boot(cpu *z80.CPU) error {
	cpu.AF.SetU16(0)
	cpu.BC.SetU16(0)
	cpu.DE.SetU16(0)
	cpu.HL.SetU16(0)

	d.currentDrive = 0
	d.track = 0
	d.sector = 1
	d.dma = 0x0080
	d.Memory.Set(0x0004, 0)

	return ErrColdBoot
}

func (d *Dispatcher) warmBoot(cpu *z80.CPU) error {
	cpu.AF.SetU16(0)
	cpu.BC.SetU16(0)
	cpu.DE.SetU16(0)
	cpu.HL.SetU16(0)

	d.dma = 0x0080

	drive := d.Memory.Get(0x0004)
	if int(drive&0x0F) >= MaxDrives {
		drive = 0
	}
	d.Memory.Set(0x0004, drive)
	d.currentDrive = int(drive & 0x0F)

	return ErrWarmBoot
}

func (d *Dispatcher) constStatus(cpu *z80.CPU) error {
	if d.Console.Empty() {
		cpu.AF.Hi = 0x00
	} else {
		cpu.AF.Hi = 0xFF
	}
	return nil
}

func (d *Dispatcher) conin(cpu *z80.CPU) error {
	if d.Console.Empty() {
		// Leave PC unchanged; the session loop replays this trap once
		// the front-end pushes a byte.
		return ErrInputStarved
	}
	cpu.AF.Hi = d.Console.Pop()
	return nil
}

func (d *Dispatcher) conout(cpu *z80.CPU) error {
	c := cpu.BC.Lo & 0x7F
	if d.Output != nil {
		return d.Output.Write(c)
	}
	return nil
}

func (d *Dispatcher) list(cpu *z80.CPU) error {
	// Printer output is not modeled; the byte is accepted and dropped.
	return nil
}

func (d *Dispatcher) punch(cpu *z80.CPU) error {
	return nil
}

func (d *Dispatcher) reader(cpu *z80.CPU) error {
	cpu.AF.Hi = 0x1A // EOF
	return nil
}

func (d *Dispatcher) home(cpu *z80.CPU) error {
	d.track = 0
	return nil
}

func (d *Dispatcher) selDsk(cpu *z80.CPU) error {
	drive := int(cpu.BC.Lo)
	loggedIn := cpu.DE.Lo&0x01 != 0

	if drive < 0 || drive >= MaxDrives || d.drives[drive] == nil {
		cpu.HL.SetU16(0)
		return nil
	}

	d.currentDrive = drive
	if !loggedIn {
		d.loggedIn[drive] = true
	}
	cpu.HL.SetU16(d.drives[drive].DPHAddr)
	return nil
}

func (d *Dispatcher) setTrk(cpu *z80.CPU) error {
	d.track = int(cpu.BC.U16())
	return nil
}

func (d *Dispatcher) setSec(cpu *z80.CPU) error {
	d.sector = int(cpu.BC.U16())
	return nil
}

func (d *Dispatcher) setDMA(cpu *z80.CPU) error {
	d.dma = cpu.BC.U16()
	return nil
}

func (d *Dispatcher) read(cpu *z80.CPU) error {
	drive, ok := d.activeDrive()
	if !ok {
		cpu.AF.Hi = StatusError
		return nil
	}

	track, head, sector := d.translateAndOffset(drive)
	data, err := drive.Backend.ReadSector(track, head, sector)
	if err != nil {
		d.logger.Warn("bios: read failed", "drive", d.currentDrive, "track", track, "sector", sector, "error", err)
		cpu.AF.Hi = StatusError
		return nil
	}

	d.Memory.PutRange(d.dma, data...)
	cpu.AF.Hi = StatusOK
	return nil
}

func (d *Dispatcher) write(cpu *z80.CPU) error {
	drive, ok := d.activeDrive()
	if !ok {
		cpu.AF.Hi = StatusError
		return nil
	}
	if drive.ReadOnly {
		cpu.AF.Hi = StatusWriteProtected
		return nil
	}

	track, head, sector := d.translateAndOffset(drive)
	data := d.Memory.GetRange(d.dma, drive.Def.SecLen)
	if err := drive.Backend.WriteSector(track, head, sector, data); err != nil {
		d.logger.Warn("bios: write failed", "drive", d.currentDrive, "track", track, "sector", sector, "error", err)
		cpu.AF.Hi = StatusError
		return nil
	}

	cpu.AF.Hi = StatusOK
	return nil
}

func (d *Dispatcher) listSt(cpu *z80.CPU) error {
	cpu.AF.Hi = 0xFF
	return nil
}

func (d *Dispatcher) secTran(cpu *z80.CPU) error {
	logical := int(cpu.BC.U16())
	xltAddr := cpu.DE.U16()

	if xltAddr == 0 {
		cpu.HL.SetU16(uint16(logical + 1))
		return nil
	}

	physical := d.Memory.Get(xltAddr + uint16(logical))
	cpu.HL.SetU16(uint16(physical))
	return nil
}

func (d *Dispatcher) activeDrive() (*Drive, bool) {
	if d.currentDrive < 0 || d.currentDrive >= MaxDrives {
		return nil, false
	}
	drv := d.drives[d.currentDrive]
	return drv, drv != nil
}
