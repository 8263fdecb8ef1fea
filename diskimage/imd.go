package diskimage

import (
	"os"

	"github.com/pkg/errors"
)

// imdSizeCodes maps an IMD size code (0..6) to a sector size in bytes.
var imdSizeCodes = [7]int{128, 256, 512, 1024, 2048, 4096, 8192}

const (
	imdHeadCylinderMap = 0x80
	imdHeadHeadMap     = 0x40
	imdHeadMask        = 0x3F
)

type imdTrack struct {
	head       int
	sectorSize int
	// data[s] holds the decoded payload for 1-based sector ID s.
	data map[int][]byte
}

// imdImage is an ImageDisk container: always read-only, and may carry
// different sector sizes per track.
type imdImage struct {
	geometry Geometry
	tracks   map[int]*imdTrack // keyed by cylinder*2 + physical head
}

func openIMD(path string) (Backend, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "diskimage: opening IMD image %s", path)
	}

	img, err := parseIMD(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "diskimage: parsing IMD image %s", path)
	}
	return img, nil
}

func parseIMD(raw []byte) (*imdImage, error) {
	term := -1
	for i, b := range raw {
		if b == 0x1A {
			term = i
			break
		}
	}
	if term < 0 {
		return nil, errors.New("diskimage: no 0x1A comment terminator found")
	}

	body := raw[term+1:]
	img := &imdImage{tracks: make(map[int]*imdTrack)}

	maxCylinder, maxHead, maxSPT := 0, 0, 0
	sectorSize := 0

	pos := 0
	for pos < len(body) {
		if pos+5 > len(body) {
			return nil, errors.New("diskimage: truncated track header")
		}
		// mode byte (body[pos]) is advisory only, unused here.
		cylinder := int(body[pos+1])
		headByte := int(body[pos+2])
		sectorCount := int(body[pos+3])
		sizeCode := int(body[pos+4])
		pos += 5

		if sizeCode < 0 || sizeCode >= len(imdSizeCodes) {
			return nil, errors.Errorf("diskimage: invalid IMD size code %d", sizeCode)
		}
		secSize := imdSizeCodes[sizeCode]
		physHead := headByte & imdHeadMask

		if pos+sectorCount > len(body) {
			return nil, errors.New("diskimage: truncated sector numbering map")
		}
		sectorMap := make([]int, sectorCount)
		for i := 0; i < sectorCount; i++ {
			sectorMap[i] = int(body[pos+i])
		}
		pos += sectorCount

		if headByte&imdHeadCylinderMap != 0 {
			pos += sectorCount
		}
		if headByte&imdHeadHeadMap != 0 {
			pos += sectorCount
		}

		track := &imdTrack{head: physHead, sectorSize: secSize, data: make(map[int][]byte)}

		for i := 0; i < sectorCount; i++ {
			if pos >= len(body) {
				return nil, errors.New("diskimage: truncated sector status byte")
			}
			status := body[pos]
			pos++

			var payload []byte
			switch status {
			case 0:
				// unavailable, no bytes follow
			case 1, 3, 5, 7:
				if pos+secSize > len(body) {
					return nil, errors.New("diskimage: truncated normal sector data")
				}
				payload = append([]byte(nil), body[pos:pos+secSize]...)
				pos += secSize
			case 2, 4, 6, 8:
				if pos >= len(body) {
					return nil, errors.New("diskimage: truncated compressed sector data")
				}
				fill := body[pos]
				pos++
				payload = make([]byte, secSize)
				for j := range payload {
					payload[j] = fill
				}
			default:
				return nil, errors.Errorf("diskimage: unknown sector status 0x%02X", status)
			}

			if payload != nil {
				track.data[sectorMap[i]] = payload
			}
		}

		img.tracks[cylinder*2+physHead] = track

		if cylinder > maxCylinder {
			maxCylinder = cylinder
		}
		if physHead > maxHead {
			maxHead = physHead
		}
		if sectorCount > maxSPT {
			maxSPT = sectorCount
		}
		sectorSize = secSize
	}

	img.geometry = Geometry{
		Tracks:          maxCylinder + 1,
		Heads:           maxHead + 1,
		SectorsPerTrack: maxSPT,
		SectorSize:      sectorSize,
		ReservedTracks:  0,
	}
	return img, nil
}

func (img *imdImage) Geometry() Geometry { return img.geometry }
func (img *imdImage) ReadOnly() bool     { return true }

func (img *imdImage) ReadSector(track, head, sector int) ([]byte, error) {
	t, ok := img.tracks[track*2+head]
	if !ok {
		buf := make([]byte, img.geometry.SectorSize)
		for i := range buf {
			buf[i] = EmptyByte
		}
		return buf, nil
	}
	data, ok := t.data[sector]
	if !ok {
		buf := make([]byte, t.sectorSize)
		for i := range buf {
			buf[i] = EmptyByte
		}
		return buf, nil
	}
	return data, nil
}

func (img *imdImage) WriteSector(track, head, sector int, data []byte) error {
	return errors.New("diskimage: IMD images are read-only")
}

func (img *imdImage) Close() error { return nil }
