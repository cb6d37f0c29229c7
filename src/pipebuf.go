package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	Bounded buffer connecting two pipeline stages.
 *
 * Description:	One writer and one reader.  The reader looks at rd(), which
 *		is every item not yet consumed, and calls read(n) once it is
 *		done with the first n.  The writer asks writable(), fills
 *		the front of wr() and commits with written(n).
 *
 *		Slices returned by rd() stay valid until the writer's next
 *		call to writable(), which may move unread items to the
 *		front of the storage.  The scheduler only ever runs one
 *		stage at a time so a stage never sees its own input move
 *		under it.
 *
 *--------------------------------------------------------------*/

type progressCounter interface {
	progress() uint64
}

type pipebuf[T any] struct {
	name  string
	buf   []T
	rdPos int
	wrPos int

	nwritten uint64
	nread    uint64
}

func newPipebuf[T any](sch *scheduler, name string, size int) *pipebuf[T] {
	Assert(size > 0)
	var p = &pipebuf[T]{
		name: name,
		buf:  make([]T, size),
	}
	if sch != nil {
		sch.addBuffer(p)
	}
	return p
}

// reserve makes sure a single write of n items can ever fit.
func (p *pipebuf[T]) reserve(n int) {
	if n <= len(p.buf) {
		return
	}
	var nb = make([]T, n)
	copy(nb, p.buf[p.rdPos:p.wrPos])
	p.wrPos -= p.rdPos
	p.rdPos = 0
	p.buf = nb
}

func (p *pipebuf[T]) readable() int {
	return p.wrPos - p.rdPos
}

func (p *pipebuf[T]) rd() []T {
	return p.buf[p.rdPos:p.wrPos]
}

func (p *pipebuf[T]) read(n int) {
	Assert(n >= 0 && n <= p.readable())
	p.rdPos += n
	p.nread += uint64(n)
	if p.rdPos == p.wrPos {
		p.rdPos = 0
		p.wrPos = 0
	}
}

func (p *pipebuf[T]) writable() int {
	if p.rdPos > 0 {
		var n = copy(p.buf, p.buf[p.rdPos:p.wrPos])
		p.rdPos = 0
		p.wrPos = n
	}
	return len(p.buf) - p.wrPos
}

func (p *pipebuf[T]) wr() []T {
	return p.buf[p.wrPos:]
}

func (p *pipebuf[T]) written(n int) {
	Assert(n >= 0 && p.wrPos+n <= len(p.buf))
	p.wrPos += n
	p.nwritten += uint64(n)
}

// write appends one item.  Caller must have checked writable().
func (p *pipebuf[T]) write(v T) {
	p.buf[p.wrPos] = v
	p.written(1)
}

func (p *pipebuf[T]) progress() uint64 {
	return p.nwritten + p.nread
}

func (p *pipebuf[T]) size() int { return len(p.buf) }
