package scanner

import (
	"github.com/banshee-data/trackline.report/internal/geom"
)

// Provider builds scanners clipped to a grid of a known size and records
// whether the last built scanner runs its scans against the stroke order.
type Provider struct {
	width, height int
	lastReversed  bool
}

// SetSize sets the clip rectangle to [0,w) x [0,h).
func (p *Provider) SetSize(w, h int) {
	p.width = w
	p.height = h
}

// Width returns the clip width.
func (p *Provider) Width() int { return p.width }

// Height returns the clip height.
func (p *Provider) Height() int { return p.height }

// IsLastScanReversed reports whether the endpoints of the last stroke were
// swapped to normalise the scan direction. Callers use it to keep the
// left/right sides consistent with the stroke orientation.
func (p *Provider) IsLastScanReversed() bool { return p.lastReversed }

// GetScanner returns a scanner whose central scan joins p1 and p2. The
// eight sign and magnitude cases of the stroke direction reduce to four
// octant descriptors once the direction is normalised; the reversed flag
// keeps the original orientation observable. When adaptive stepping is
// requested, horizontal and vertical strokes get a VH scanner and all
// others an adaptive one; otherwise the scanner is static.
func (p *Provider) GetScanner(p1, p2 geom.Pt2i, adaptive bool) *DirectionalScanner {
	a := p2.X - p1.X
	b := p2.Y - p1.Y
	p.lastReversed = a < 0 || (a == 0 && b < 0)
	if p.lastReversed {
		p1, p2 = p2, p1
	}
	kind := Static
	if adaptive {
		kind = Adaptive
		if p2.X-p1.X == 0 || p2.Y-p1.Y == 0 {
			kind = VH
		}
	}
	return NewScanner(kind, p.width, p.height, p1, p2)
}

// GetScannerAround returns a scanner of the given length centred on pt and
// directed by (a, b); the direction is normalised first.
func (p *Provider) GetScannerAround(a, b int, pt geom.Pt2i, length int, adaptive bool) *DirectionalScanner {
	p.lastReversed = a < 0 || (a == 0 && b < 0)
	if p.lastReversed {
		a, b = -a, -b
	}
	kind := Static
	if adaptive {
		kind = Adaptive
		if a == 0 || b == 0 {
			kind = VH
		}
	}
	return NewScannerAround(kind, p.width, p.height, a, b, pt, length)
}
