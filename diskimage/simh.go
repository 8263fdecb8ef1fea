package diskimage

import (
	"os"

	"github.com/pkg/errors"
)

const (
	simhRecordSize = 137
	simhDataOffset = 3
	simhDataSize   = 128
	simhTrailer    = 6
	simhSPT        = 32
)

// simhImage is a SIMH Altair 137-byte-sectored image: each on-disk record
// is a 3-byte header, 128 bytes of payload, and a 6-byte trailer. Writes
// read-modify-write the enclosing record to preserve header and trailer.
type simhImage struct {
	f        *os.File
	geometry Geometry
	readOnly bool
}

func looksLikeSIMH(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	size := info.Size()
	if size%simhRecordSize != 0 {
		return false, nil
	}
	totalSectors := size / simhRecordSize
	if totalSectors < simhSPT || totalSectors%simhSPT != 0 {
		return false, nil
	}
	return true, nil
}

func openSIMH(path string, readOnly bool) (Backend, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "diskimage: opening SIMH image %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "diskimage: statting SIMH image %s", path)
	}

	totalSectors := int(info.Size() / simhRecordSize)
	tracks := totalSectors / simhSPT

	geometry := Geometry{
		Tracks:          tracks,
		Heads:           1,
		SectorsPerTrack: simhSPT,
		SectorSize:      simhDataSize,
		ReservedTracks:  6,
	}

	return &simhImage{f: f, geometry: geometry, readOnly: readOnly}, nil
}

func (s *simhImage) Geometry() Geometry { return s.geometry }
func (s *simhImage) ReadOnly() bool     { return s.readOnly }

func (s *simhImage) recordOffset(track, head, sector int) (int64, error) {
	if head != 0 {
		return 0, errors.Errorf("diskimage: SIMH images are single-sided, got head %d", head)
	}
	if track < 0 || track >= s.geometry.Tracks {
		return 0, errors.Errorf("diskimage: track %d out of range [0,%d)", track, s.geometry.Tracks)
	}
	if sector < 1 || sector > simhSPT {
		return 0, errors.Errorf("diskimage: sector %d out of range [1,%d]", sector, simhSPT)
	}
	index := track*simhSPT + (sector - 1)
	return int64(index) * simhRecordSize, nil
}

func (s *simhImage) ReadSector(track, head, sector int) ([]byte, error) {
	off, err := s.recordOffset(track, head, sector)
	if err != nil {
		return nil, err
	}
	record := make([]byte, simhRecordSize)
	if _, err := s.f.ReadAt(record, off); err != nil {
		return nil, errors.Wrapf(err, "diskimage: reading SIMH record at offset %d", off)
	}
	return record[simhDataOffset : simhDataOffset+simhDataSize], nil
}

func (s *simhImage) WriteSector(track, head, sector int, data []byte) error {
	if s.readOnly {
		return errors.New("diskimage: write to read-only SIMH image")
	}
	if len(data) != simhDataSize {
		return errors.Errorf("diskimage: write of %d bytes, want %d", len(data), simhDataSize)
	}
	off, err := s.recordOffset(track, head, sector)
	if err != nil {
		return err
	}

	record := make([]byte, simhRecordSize)
	n, _ := s.f.ReadAt(record, off)
	if n < simhRecordSize {
		// First write to this record: initialize header, leave trailer zero.
		record[0] = byte(track)
		record[1] = byte(sector - 1)
		record[2] = 0
	}
	copy(record[simhDataOffset:simhDataOffset+simhDataSize], data)

	if _, err := s.f.WriteAt(record, off); err != nil {
		return errors.Wrapf(err, "diskimage: writing SIMH record at offset %d", off)
	}
	return nil
}

func (s *simhImage) Close() error { return s.f.Close() }
