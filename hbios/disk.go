package hbios

import (
	"github.com/koron-go/z80"

	"github.com/romwbw/cpmcore/diskimage"
)

// DiskUnit is one HBIOS disk-unit table entry: just the backend. No
// per-unit DMA state is kept; the transfer address is taken from the
// registers of each DIOREAD/DIOWRITE call.
type DiskUnit struct {
	Backend diskimage.Backend
}

// dispatchDIO services the disk I/O group (0x10-0x1B).
func (d *Dispatcher) dispatchDIO(cpu *z80.CPU, fn byte) error {
	unit := int(cpu.BC.Lo)
	switch fn {
	case FnDIOSTATUS:
		d.dioStatus(cpu, unit)
		return nil
	case FnDIORESET:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnDIOREAD:
		return d.dioTransfer(cpu, unit, false)
	case FnDIOWRITE:
		return d.dioTransfer(cpu, unit, true)
	case FnDIOVERIFY:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnDIOSENSE:
		cpu.AF.Hi = ResultSuccess
		cpu.DE.Hi = 0x01 // media present
		return nil
	case FnDIOCAP:
		d.dioCap(cpu, unit)
		return nil
	case FnDIOGEOM:
		d.dioGeom(cpu, unit)
		return nil
	case FnDIOINIT:
		cpu.AF.Hi = ResultSuccess
		return nil
	case FnDIOQUERY:
		cpu.AF.Hi = ResultSuccess
		cpu.HL.SetU16(1)
		return nil
	case FnDIODEVICE:
		cpu.AF.Hi = ResultSuccess
		cpu.DE.Hi = 0x10 // device type: fixed/removable disk
		return nil
	case FnDIOFORMAT:
		cpu.AF.Hi = ResultFailed // formatting a mounted image is not modeled
		return nil
	default:
		cpu.AF.Hi = ResultFailed
		return nil
	}
}

// DiskBackend returns the backend mounted at disk unit n, or nil if none
// is mounted there. Used by SYSBOOT resolution to find a boot target.
func (d *Dispatcher) DiskBackend(n int) diskimage.Backend {
	u, ok := d.unit(n)
	if !ok {
		return nil
	}
	return u.Backend
}

func (d *Dispatcher) unit(n int) (*DiskUnit, bool) {
	if n < 0 || n >= MaxDiskUnits || d.units[n] == nil {
		return nil, false
	}
	return d.units[n], true
}

func (d *Dispatcher) dioStatus(cpu *z80.CPU, unitIdx int) {
	if _, ok := d.unit(unitIdx); !ok {
		cpu.AF.Hi = ResultFailed
		return
	}
	cpu.AF.Hi = ResultSuccess
	cpu.DE.Hi = 0x00
}

func (d *Dispatcher) dioCap(cpu *z80.CPU, unitIdx int) {
	u, ok := d.unit(unitIdx)
	if !ok {
		cpu.AF.Hi = ResultFailed
		return
	}
	geom := u.Backend.Geometry()
	cpu.DE.SetU16(uint16(geom.TotalSectors() >> 16))
	cpu.HL.SetU16(uint16(geom.TotalSectors() & 0xFFFF))
	if u.Backend.ReadOnly() {
		cpu.BC.Lo = 0x01
	} else {
		cpu.BC.Lo = 0x00
	}
	cpu.AF.Hi = ResultSuccess
}

func (d *Dispatcher) dioGeom(cpu *z80.CPU, unitIdx int) {
	u, ok := d.unit(unitIdx)
	if !ok {
		cpu.AF.Hi = ResultFailed
		return
	}
	geom := u.Backend.Geometry()
	cpu.DE.SetU16(uint16(geom.Tracks))
	cpu.HL.Hi = byte(geom.Heads)
	cpu.HL.Lo = byte(geom.SectorsPerTrack)
	cpu.AF.Hi = ResultSuccess
}

// dioTransfer services DIOREAD/DIOWRITE. The chained logical block address
// arrives in D:E:HL-low (D is the high byte, E the middle byte, L the low
// byte of a 24-bit LBA); HL-high (H) carries the guest DMA page and the low
// byte of the DMA offset is implied to be zero, matching HBIOS's
// page-granular DMA convention. The LBA is converted to (track, head,
// sector) from the unit's advertised geometry.
func (d *Dispatcher) dioTransfer(cpu *z80.CPU, unitIdx int, write bool) error {
	u, ok := d.unit(unitIdx)
	if !ok {
		cpu.AF.Hi = ResultFailed
		return nil
	}

	lba := int(cpu.DE.Hi)<<16 | int(cpu.DE.Lo)<<8 | int(cpu.HL.Lo)
	dma := uint16(cpu.HL.Hi) << 8

	geom := u.Backend.Geometry()
	perCylinder := geom.Heads * geom.SectorsPerTrack
	if perCylinder == 0 {
		cpu.AF.Hi = ResultFailed
		return nil
	}
	track := lba / perCylinder
	rem := lba % perCylinder
	head := rem / geom.SectorsPerTrack
	sector := rem%geom.SectorsPerTrack + 1

	if write {
		if u.Backend.ReadOnly() {
			cpu.AF.Hi = ResultFailed
			return nil
		}
		data := d.Memory.GetRange(dma, geom.SectorSize)
		if err := u.Backend.WriteSector(track, head, sector, data); err != nil {
			d.logger.Warn("hbios: disk write failed", "unit", unitIdx, "lba", lba, "error", err)
			cpu.AF.Hi = ResultFailed
			return nil
		}
	} else {
		data, err := u.Backend.ReadSector(track, head, sector)
		if err != nil {
			d.logger.Warn("hbios: disk read failed", "unit", unitIdx, "lba", lba, "error", err)
			cpu.AF.Hi = ResultFailed
			return nil
		}
		d.Memory.PutRange(dma, data...)
	}

	cpu.AF.Hi = ResultSuccess
	return nil
}
