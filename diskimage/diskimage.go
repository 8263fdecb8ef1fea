// Package diskimage decodes the on-disk container formats CP/M and RomWBW
// disk units are stored in — raw sector dumps, ImageDisk (.imd), and SIMH's
// 137-byte-sectored Altair format — behind a single sector-addressed
// Backend interface.
package diskimage

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Geometry describes a disk's physical layout.
type Geometry struct {
	Tracks         int
	Heads          int
	SectorsPerTrack int
	SectorSize     int
	ReservedTracks int
}

// TotalSectors returns the sector count implied by the geometry.
func (g Geometry) TotalSectors() int {
	return g.Tracks * g.Heads * g.SectorsPerTrack
}

// Backend is a disk image opened for sector-level access. Track is 0-based,
// head is 0-based, sector is 1-based, matching the BIOS/HBIOS convention.
type Backend interface {
	Geometry() Geometry
	ReadOnly() bool
	ReadSector(track, head, sector int) ([]byte, error)
	WriteSector(track, head, sector int, data []byte) error
	Close() error
}

// EmptyByte is CP/M's conventional fill value for unavailable sector data.
const EmptyByte = 0xE5

// IsSIMH reports whether b is a SIMH Altair 137-byte-sectored backend. The
// cold-boot loader needs this to pick its SIMH-specific signature scan.
func IsSIMH(b Backend) bool {
	_, ok := b.(*simhImage)
	return ok
}

// Open opens path and selects a backend by extension, falling back to
// content sniffing for the SIMH format and plain sector concatenation
// otherwise.
func Open(path string, readOnly bool) (Backend, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".imd":
		return openIMD(path)
	}

	isSimh, err := looksLikeSIMH(path)
	if err != nil {
		return nil, errors.Wrapf(err, "diskimage: probing %s", path)
	}
	if isSimh {
		return openSIMH(path, readOnly)
	}
	return openRaw(path, readOnly)
}
