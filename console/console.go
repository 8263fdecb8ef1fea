// Package console implements the connective tissue between a front-end's
// keyboard/screen and the BIOS/HBIOS character-I/O handlers: an input FIFO
// fed by the host, and a pluggable output sink.
package console

// Ring is a FIFO of pending input bytes. The BIOS CONIN and HBIOS
// CIOIN/VDAKRD handlers drain it; a front-end feeds it by polling its
// input source.
type Ring struct {
	buf []byte
}

// NewRing returns an empty input ring.
func NewRing() *Ring {
	return &Ring{}
}

// Push appends a byte the front-end received from its input source.
func (r *Ring) Push(b byte) {
	r.buf = append(r.buf, b)
}

// Empty reports whether there is no pending input.
func (r *Ring) Empty() bool {
	return len(r.buf) == 0
}

// Pop removes and returns the oldest pending byte. Callers must check
// Empty first; Pop panics on an empty ring, mirroring a slice index
// out-of-range rather than inventing a sentinel return value.
func (r *Ring) Pop() byte {
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

// Len reports the number of pending bytes.
func (r *Ring) Len() int {
	return len(r.buf)
}

// Output is a pluggable character-device sink for console/printer/aux
// output. The default implementations in this package write to an
// io.Writer; front-ends needing raw-mode terminal handling supply their
// own implementation built on golang.org/x/term.
type Output interface {
	Write(b byte) error
}

// WriterOutput adapts an io.Writer into an Output, stripping bit 7 as CP/M
// console drivers conventionally do.
type WriterOutput struct {
	w interface{ Write([]byte) (int, error) }
}

// NewWriterOutput wraps w as an Output.
func NewWriterOutput(w interface{ Write([]byte) (int, error) }) *WriterOutput {
	return &WriterOutput{w: w}
}

// Write emits b with its high bit cleared.
func (o *WriterOutput) Write(b byte) error {
	_, err := o.w.Write([]byte{b & 0x7F})
	return err
}

// Recorder is an Output that accumulates every byte written to it, useful
// for tests that need to assert on emitted console output.
type Recorder struct {
	Bytes []byte
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Write appends b (with bit 7 stripped) to the recorded bytes.
func (r *Recorder) Write(b byte) error {
	r.Bytes = append(r.Bytes, b&0x7F)
	return nil
}
