package diskimage

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// rawImage is a flat concatenation of sectors in (track, head, sector-1)
// major order.
type rawImage struct {
	f        *os.File
	geometry Geometry
	readOnly bool
}

func openRaw(path string, readOnly bool) (Backend, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "diskimage: opening raw image %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "diskimage: statting raw image %s", path)
	}

	geometry, ok := detectGeometry(info.Size())
	if !ok {
		f.Close()
		return nil, errors.Errorf("diskimage: %s (%d bytes) does not match a known geometry and is not divisible into 128-byte, 26-sector/track sectors", path, info.Size())
	}

	return &rawImage{f: f, geometry: geometry, readOnly: readOnly}, nil
}

func (r *rawImage) Geometry() Geometry { return r.geometry }
func (r *rawImage) ReadOnly() bool     { return r.readOnly }

func (r *rawImage) offset(track, head, sector int) (int64, error) {
	if track < 0 || track >= r.geometry.Tracks {
		return 0, errors.Errorf("diskimage: track %d out of range [0,%d)", track, r.geometry.Tracks)
	}
	if head < 0 || head >= r.geometry.Heads {
		return 0, errors.Errorf("diskimage: head %d out of range [0,%d)", head, r.geometry.Heads)
	}
	if sector < 1 || sector > r.geometry.SectorsPerTrack {
		return 0, errors.Errorf("diskimage: sector %d out of range [1,%d]", sector, r.geometry.SectorsPerTrack)
	}
	index := (track*r.geometry.Heads+head)*r.geometry.SectorsPerTrack + (sector - 1)
	return int64(index) * int64(r.geometry.SectorSize), nil
}

func (r *rawImage) ReadSector(track, head, sector int) ([]byte, error) {
	off, err := r.offset(track, head, sector)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, r.geometry.SectorSize)
	n, err := r.f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "diskimage: reading sector at offset %d", off)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = EmptyByte
	}
	return buf, nil
}

func (r *rawImage) WriteSector(track, head, sector int, data []byte) error {
	if r.readOnly {
		return errors.New("diskimage: write to read-only raw image")
	}
	off, err := r.offset(track, head, sector)
	if err != nil {
		return err
	}
	if len(data) != r.geometry.SectorSize {
		return errors.Errorf("diskimage: write of %d bytes, want %d", len(data), r.geometry.SectorSize)
	}
	if _, err := r.f.WriteAt(data, off); err != nil {
		return errors.Wrapf(err, "diskimage: writing sector at offset %d", off)
	}
	return nil
}

func (r *rawImage) Close() error { return r.f.Close() }
