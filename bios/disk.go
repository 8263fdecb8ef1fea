package bios

import (
	"github.com/romwbw/cpmcore/diskdefs"
	"github.com/romwbw/cpmcore/diskimage"
)

// Drive is one mounted BIOS drive: its backend, its geometry-derived DPB,
// and the sector-translation table the BIOS publishes for the BDOS to
// consult.
type Drive struct {
	Backend  diskimage.Backend
	Def      diskdefs.DiskDef
	ReadOnly bool

	xlt []int

	// DPHAddr, DPBAddr, XLTAddr, etc. are filled in by WriteDPH once the
	// drive's work area has been laid out in guest memory.
	DPHAddr uint16
	DPBAddr uint16
	XLTAddr uint16
	CSVAddr uint16
	ALVAddr uint16
}

// NewDrive builds a Drive from an opened backend and the diskdefs.DiskDef
// describing its geometry.
func NewDrive(backend diskimage.Backend, def diskdefs.DiskDef) *Drive {
	return &Drive{
		Backend:  backend,
		Def:      def,
		ReadOnly: backend.ReadOnly(),
		xlt:      def.BuildXLT(),
	}
}

// Translate maps a 1-based logical sector to a 1-based physical sector
// using the drive's XLT. With no translation table, identity+1 would be
// wrong for sector 0 callers but BIOS SECTRAN always supplies the true
// XLT address (0 meaning identity) rather than going through this helper;
// Translate exists for READ/WRITE's own sector stepping.
func (dr *Drive) Translate(logical int) int {
	if logical-1 >= 0 && logical-1 < len(dr.xlt) {
		return dr.xlt[logical-1]
	}
	return logical
}

// WriteDPH lays out this drive's DPH, DPB, XLT, CSV, and ALV starting at
// addr, and returns the address one past the end of the region. dirbuf is
// the shared 128-byte directory buffer address every drive's DPH points at.
func (dr *Drive) WriteDPH(mem memSetter, addr uint16, dirbuf uint16) uint16 {
	xltAddr := addr
	csvAddr := xltAddr + uint16(dr.Def.SecTrk)
	alvSize := (dr.Def.DSM() + 1 + 7) / 8
	alvAddr := csvAddr + uint16(dr.Def.CKS())
	dpbAddr := alvAddr + uint16(alvSize)
	dphAddr := dpbAddr + 15

	for i, s := range dr.xlt {
		mem.Set(xltAddr+uint16(i), uint8(s))
	}
	mem.FillRange(csvAddr, dr.Def.CKS(), 0x00)
	mem.FillRange(alvAddr, alvSize, 0x00)

	writeDPB(mem, dpbAddr, dr.Def)

	mem.SetU16(dphAddr+0, xltAddr)
	mem.FillRange(dphAddr+2, 6, 0x00) // scratch words CP/M reserves for the BDOS
	mem.SetU16(dphAddr+8, dirbuf)
	mem.SetU16(dphAddr+10, dpbAddr)
	mem.SetU16(dphAddr+12, csvAddr)
	mem.SetU16(dphAddr+14, alvAddr)

	dr.XLTAddr = xltAddr
	dr.CSVAddr = csvAddr
	dr.ALVAddr = alvAddr
	dr.DPBAddr = dpbAddr
	dr.DPHAddr = dphAddr

	return dphAddr + 16
}

// memSetter is the subset of *memory.Memory the DPH/DPB writers need.
// Defined narrowly so this package's tests can substitute a bare
// *memory.Memory without importing the concrete type here.
type memSetter interface {
	Set(addr uint16, value uint8)
	SetU16(addr uint16, value uint16)
	FillRange(addr uint16, size int, char uint8)
}

// writeDPB encodes the fifteen-byte Disk Parameter Block at addr.
func writeDPB(mem memSetter, addr uint16, def diskdefs.DiskDef) {
	mem.SetU16(addr+0, uint16(def.SecTrk))
	mem.Set(addr+2, uint8(def.BSH()))
	mem.Set(addr+3, uint8(def.BLM()))
	mem.Set(addr+4, uint8(def.EXM()))
	mem.SetU16(addr+5, uint16(def.DSM()))
	mem.SetU16(addr+7, uint16(def.DRM()))
	mem.Set(addr+9, uint8(def.AL0()))
	mem.Set(addr+10, uint8(def.AL1()))
	mem.SetU16(addr+11, uint16(def.CKS()))
	mem.SetU16(addr+13, uint16(def.OFF()))
}
