package sequence

// Line is a fixed delay line backed by a ring buffer. Reads trail writes by
// exactly Delay samples as long as every block writes and reads the same
// number of samples, in any order, and blocks are not larger than the
// block size line was created for.
type Line struct {
	buf   []float64
	delay int
	r, w  int
}

// NewLine allocates a line with provided delay for blocks up to
// maxBlockSize samples.
func NewLine(delay, maxBlockSize int) *Line {
	return &Line{
		buf:   make([]float64, delay+maxBlockSize),
		delay: delay,
		w:     delay,
	}
}

// Delay returns delay in samples.
func (l *Line) Delay() int {
	return l.delay
}

// Write appends samples to the line.
func (l *Line) Write(src []float64) {
	for len(src) > 0 {
		n := copy(l.buf[l.w:], src)
		src = src[n:]
		l.w += n
		if l.w == len(l.buf) {
			l.w = 0
		}
	}
}

// Read fills dst with delayed samples.
func (l *Line) Read(dst []float64) {
	for len(dst) > 0 {
		n := copy(dst, l.buf[l.r:])
		dst = dst[n:]
		l.r += n
		if l.r == len(l.buf) {
			l.r = 0
		}
	}
}

// Process writes src and reads the same number of samples into dst.
func (l *Line) Process(dst, src []float64) {
	l.Write(src)
	l.Read(dst)
}

// Reset clears delayed samples.
func (l *Line) Reset() {
	clear(l.buf)
	l.r, l.w = 0, l.delay
}
