package track

// Register sizes and unstability thresholds.
const (
	DefaultPosHeightRegisterSize   = 8
	DefaultUnstabilityRegisterSize = 6
	lnUnstab                       = 0.25
)

// trendRegister is a ring of recent (ok, value) pairs with the trend
// estimator over its valid entries. One register tracks plateau centres,
// another minimal heights; both live in a per-side pack, reset at the
// start of each side's tracking.
type trendRegister struct {
	ok  []bool
	val []float32
}

func newTrendRegister(size int) *trendRegister {
	return &trendRegister{
		ok:  make([]bool, size),
		val: make([]float32, size),
	}
}

func (r *trendRegister) reset(ok bool, v float32) {
	for i := 1; i < len(r.ok); i++ {
		r.ok[i] = false
		r.val[i] = 0
	}
	r.ok[0] = ok
	r.val[0] = v
}

// update pushes a sample and returns the current trend: the per-step slope
// between the two most recent valid samples whose intermediate deviations
// from the overall slope keep one sign. A single leading outlier is
// deliberately discarded; fewer than two valid samples give a zero trend.
func (r *trendRegister) update(ok bool, v float32) float32 {
	nbok := 0
	last, first := -1, -1
	for i := len(r.ok) - 1; i > 0; i-- {
		r.ok[i] = r.ok[i-1]
		r.val[i] = r.val[i-1]
		if r.ok[i] {
			if nbok != 0 {
				last = i
			} else {
				first = i
			}
			nbok++
		}
	}
	r.ok[0] = ok
	r.val[0] = v
	if ok {
		if nbok != 0 {
			last = 0
		} else {
			first = 0
		}
		nbok++
	}

	if nbok <= 1 {
		return 0
	}
	trend := (r.val[last] - r.val[first]) / float32(first-last)
	if nbok == 2 {
		return trend
	}
	var dtrend float32
	last2 := -1
	for i := first - 1; i > last; i-- {
		if !r.ok[i] {
			continue
		}
		d := (r.val[last]-r.val[i])/float32(i-last) - trend
		if dtrend == 0 {
			dtrend = d
			last2 = i
		} else if d*dtrend < 0 {
			return trend
		} else {
			last2 = i
		}
	}
	return (r.val[last] - r.val[last2]) / float32(last2-last)
}

// unstabilityRegister watches the recent plateau bounds; when the plateau
// grows past the width envelope it tells which side the true bound is
// shrinking from.
type unstabilityRegister struct {
	spos, epos []float32
	spok, epok []bool
}

func newUnstabilityRegister(size int) *unstabilityRegister {
	return &unstabilityRegister{
		spos: make([]float32, size),
		epos: make([]float32, size),
		spok: make([]bool, size),
		epok: make([]bool, size),
	}
}

func (r *unstabilityRegister) reset() {
	for i := range r.spos {
		r.spos[i] = 0
		r.epos[i] = 0
		r.spok[i] = false
		r.epok[i] = false
	}
}

// update pushes the last bounds and, when the plateau width exceeds
// maxLength, compares the path lengths swept by each bound. It returns -1
// when the plateau shrinks from the start side, +1 from the end side, 0
// when stable.
func (r *unstabilityRegister) update(slast, elast float32, sok, eok bool, width, maxLength float32) int {
	n := len(r.spos)
	for i := n - 1; i > 0; i-- {
		r.spos[i] = r.spos[i-1]
		r.epos[i] = r.epos[i-1]
		r.spok[i] = r.spok[i-1]
		r.epok[i] = r.epok[i-1]
	}
	r.spos[0] = slast
	r.epos[0] = elast
	r.spok[0] = sok
	r.epok[0] = eok

	if width > maxLength {
		var spath, epath float32
		for i := n - 1; i > 0; i-- {
			spath += absf(r.spos[i] - r.spos[i-1])
			epath += absf(r.epos[i] - r.epos[i-1])
		}
		if spath-epath > lnUnstab*float32(n) {
			return -1
		}
		if epath-spath > lnUnstab*float32(n) {
			return 1
		}
	}
	return 0
}

// registerPack bundles the per-side prediction state: the centre and
// height trend registers and the bounds unstability register.
type registerPack struct {
	pos    *trendRegister
	height *trendRegister
	unstab *unstabilityRegister
}

func newRegisterPack(posSize, unstabSize int) *registerPack {
	return &registerPack{
		pos:    newTrendRegister(posSize),
		height: newTrendRegister(posSize),
		unstab: newUnstabilityRegister(unstabSize),
	}
}

func (rp *registerPack) reset(ok bool, pos, ht float32) {
	rp.pos.reset(ok, pos)
	rp.height.reset(ok, ht)
	rp.unstab.reset()
}
