// Package memory implements the banked 64 KiB guest address space: a ROM
// image and a RAM image combined through a current-bank selector, a fixed
// common bank for the upper half of the window, and a shadow-RAM overlay
// that lets stores into a selected ROM bank alias into RAM without
// disturbing the ROM bytes underneath.
package memory

import (
	"fmt"
	"log/slog"
)

const (
	// BankSize is the size, in bytes, of one selectable bank and of the
	// window it occupies. The low window (0x0000-0x7FFF) and the fixed
	// common window (0x8000-0xFFFF) are each exactly one bank wide.
	BankSize = 0x8000

	// CommonBase is the first address of the fixed common window.
	CommonBase = 0x8000

	// RAMBankFlag marks a bank ID as RAM; IDs with this bit clear are ROM.
	RAMBankFlag = 0x80

	// MaxROMBanks bounds ROM size at MaxROMBanks*BankSize (512 KiB).
	MaxROMBanks = 16

	// MaxRAMBanks bounds RAM size at MaxRAMBanks*BankSize (512 KiB).
	MaxRAMBanks = 16
)

// WriteProtectViolation is panicked by Set when a store lands inside a
// fatal-mode write-protected range. A session's execution loop recovers
// this at its boundary and turns it into an ordinary error.
type WriteProtectViolation struct {
	Addr  uint16
	Value uint8
}

func (w WriteProtectViolation) Error() string {
	return fmt.Sprintf("write-protect violation: store 0x%02X to 0x%04X", w.Value, w.Addr)
}

// Memory is the banked guest address space. Get/Set satisfy the byte-wide
// load/store interface a z80.CPU expects of its Memory field.
type Memory struct {
	rom []byte
	ram []byte

	romBanks int
	ramBanks int

	shadowData [MaxROMBanks][]byte
	shadowSet  [MaxROMBanks][]bool

	bankingEnabled bool
	currentBank    uint8
	commonBank     uint8

	wpEnabled bool
	wpFatal   bool
	wpStart   uint16
	wpEnd     uint16

	logger *slog.Logger
}

// New allocates ramBanks RAM banks (a count outside [1, MaxRAMBanks] means
// MaxRAMBanks) and defaults
// the common bank to the highest one, per RomWBW convention. Banking starts
// disabled: Get/Set address the first 64 KiB of RAM directly until LoadROM
// or EnableBanking turns banking on.
func New(logger *slog.Logger, ramBanks int) *Memory {
	if ramBanks <= 0 || ramBanks > MaxRAMBanks {
		ramBanks = MaxRAMBanks
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Memory{
		ram:      make([]byte, ramBanks*BankSize),
		ramBanks: ramBanks,
		logger:   logger,
	}
	m.commonBank = RAMBankFlag | uint8(ramBanks-1)
	return m
}

// LoadROM installs a ROM image and enables banking. The image need not be a
// multiple of BankSize; reads past its end return zero.
func (m *Memory) LoadROM(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("memory: empty ROM image")
	}
	if len(data) > MaxROMBanks*BankSize {
		return fmt.Errorf("memory: ROM image of %d bytes exceeds %d byte maximum", len(data), MaxROMBanks*BankSize)
	}
	m.rom = make([]byte, len(data))
	copy(m.rom, data)
	m.romBanks = (len(data) + BankSize - 1) / BankSize
	m.bankingEnabled = true
	return nil
}

// EnableBanking and DisableBanking toggle between the banked view and a
// flat 64 KiB view of the first two RAM banks.
func (m *Memory) EnableBanking()       { m.bankingEnabled = true }
func (m *Memory) DisableBanking()      { m.bankingEnabled = false }
func (m *Memory) BankingEnabled() bool { return m.bankingEnabled }

// SelectBank sets the bank appearing in the low window.
func (m *Memory) SelectBank(id uint8) { m.currentBank = id }

// CurrentBank returns the bank selector last set by SelectBank.
func (m *Memory) CurrentBank() uint8 { return m.currentBank }

// CommonBank returns the bank ID fixed at the upper window.
func (m *Memory) CommonBank() uint8 { return m.commonBank }

// SetCommonBank overrides the default common bank (highest RAM bank).
func (m *Memory) SetCommonBank(id uint8) { m.commonBank = id }

// SetWriteProtect arms a protected range [start, end). fatal selects
// between panicking with WriteProtectViolation and silently dropping the
// store.
func (m *Memory) SetWriteProtect(start, end uint16, fatal bool) {
	m.wpEnabled = true
	m.wpFatal = fatal
	m.wpStart = start
	m.wpEnd = end
}

// ClearWriteProtect disarms any protected range.
func (m *Memory) ClearWriteProtect() { m.wpEnabled = false }

func (m *Memory) ramBankOffset(id uint8) (int, bool) {
	idx := int(id &^ RAMBankFlag)
	if idx >= m.ramBanks {
		return 0, false
	}
	return idx * BankSize, true
}

func (m *Memory) romBankIndex(id uint8) (int, bool) {
	idx := int(id)
	if idx >= m.romBanks {
		return 0, false
	}
	return idx, true
}

// Get loads one byte from the guest address space.
func (m *Memory) Get(addr uint16) uint8 {
	if !m.bankingEnabled {
		return m.ram[addr]
	}
	if addr >= CommonBase {
		off, ok := m.ramBankOffset(m.commonBank)
		if !ok {
			return 0
		}
		return m.ram[off+int(addr-CommonBase)]
	}
	if m.currentBank&RAMBankFlag != 0 {
		off, ok := m.ramBankOffset(m.currentBank)
		if !ok {
			return 0
		}
		return m.ram[off+int(addr)]
	}
	bankIdx, ok := m.romBankIndex(m.currentBank)
	if !ok {
		return 0
	}
	if set := m.shadowSet[bankIdx]; set != nil && set[addr] {
		return m.shadowData[bankIdx][addr]
	}
	romOff := bankIdx*BankSize + int(addr)
	if romOff >= len(m.rom) {
		return 0
	}
	return m.rom[romOff]
}

// Set stores one byte into the guest address space.
func (m *Memory) Set(addr uint16, value uint8) {
	if m.wpEnabled && addr >= m.wpStart && addr < m.wpEnd {
		if m.wpFatal {
			panic(WriteProtectViolation{Addr: addr, Value: value})
		}
		m.logger.Debug("memory: dropped write-protected store", "addr", addr, "value", value)
		return
	}
	if !m.bankingEnabled {
		m.ram[addr] = value
		return
	}
	if addr >= CommonBase {
		off, ok := m.ramBankOffset(m.commonBank)
		if !ok {
			m.logger.Warn("memory: store to invalid common bank", "bank", m.commonBank)
			return
		}
		m.ram[off+int(addr-CommonBase)] = value
		return
	}
	if m.currentBank&RAMBankFlag != 0 {
		off, ok := m.ramBankOffset(m.currentBank)
		if !ok {
			m.logger.Warn("memory: store to invalid RAM bank", "bank", m.currentBank)
			return
		}
		m.ram[off+int(addr)] = value
		return
	}
	bankIdx, ok := m.romBankIndex(m.currentBank)
	if !ok {
		m.logger.Warn("memory: store to invalid ROM bank", "bank", m.currentBank)
		return
	}
	m.ensureShadow(bankIdx)
	m.shadowData[bankIdx][addr] = value
	m.shadowSet[bankIdx][addr] = true
}

func (m *Memory) ensureShadow(bankIdx int) {
	if m.shadowData[bankIdx] == nil {
		m.shadowData[bankIdx] = make([]byte, BankSize)
		m.shadowSet[bankIdx] = make([]bool, BankSize)
	}
}

// ReadBank reads addr (0..BankSize-1) from the named bank directly,
// bypassing the shadow overlay and the current selector. Used by HBIOS
// SYSPEEK/SYSBNKCPY.
func (m *Memory) ReadBank(id uint8, addr uint16) uint8 {
	if id&RAMBankFlag != 0 {
		off, ok := m.ramBankOffset(id)
		if !ok {
			return 0
		}
		return m.ram[off+int(addr)]
	}
	bankIdx, ok := m.romBankIndex(id)
	if !ok {
		return 0
	}
	romOff := bankIdx*BankSize + int(addr)
	if romOff >= len(m.rom) {
		return 0
	}
	return m.rom[romOff]
}

// WriteBank writes addr (0..BankSize-1) into the named RAM bank directly.
// Writes to a ROM bank are ignored with a warning; ROM is immutable.
func (m *Memory) WriteBank(id uint8, addr uint16, value uint8) {
	if id&RAMBankFlag == 0 {
		m.logger.Warn("memory: write_bank to ROM ignored", "bank", id, "addr", addr)
		return
	}
	off, ok := m.ramBankOffset(id)
	if !ok {
		m.logger.Warn("memory: write_bank to invalid RAM bank", "bank", id)
		return
	}
	m.ram[off+int(addr)] = value
}

// RAMBankCount returns the number of RAM banks allocated.
func (m *Memory) RAMBankCount() int { return m.ramBanks }

// ROMBankCount returns the number of ROM banks the loaded image occupies.
func (m *Memory) ROMBankCount() int { return m.romBanks }

// GetU16 reads a little-endian 16-bit word.
func (m *Memory) GetU16(addr uint16) uint16 {
	lo := m.Get(addr)
	hi := m.Get(addr + 1)
	return uint16(lo) | uint16(hi)<<8
}

// SetU16 writes a little-endian 16-bit word.
func (m *Memory) SetU16(addr uint16, value uint16) {
	m.Set(addr, uint8(value&0xFF))
	m.Set(addr+1, uint8(value>>8))
}

// PutRange copies data into consecutive addresses starting at addr.
func (m *Memory) PutRange(addr uint16, data ...uint8) {
	for i, b := range data {
		m.Set(addr+uint16(i), b)
	}
}

// FillRange stores char into size consecutive addresses starting at addr.
func (m *Memory) FillRange(addr uint16, size int, char uint8) {
	for i := 0; i < size; i++ {
		m.Set(addr+uint16(i), char)
	}
}

// GetRange returns size consecutive bytes starting at addr.
func (m *Memory) GetRange(addr uint16, size int) []uint8 {
	out := make([]uint8, size)
	for i := range out {
		out[i] = m.Get(addr + uint16(i))
	}
	return out
}
