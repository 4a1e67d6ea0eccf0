package track

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trackline.report/internal/geom"
	"github.com/banshee-data/trackline.report/internal/scanner"
)

// Detection status codes surfaced to the caller. Failures never propagate
// as errors: a failed detection returns a nil track and one of these,
// except NO_BOUNDS and DISCONNECT, whose track is returned with that status.
const (
	ResultNone                     = 0
	ResultOK                       = 1
	ResultFailTooNarrowInput       = -1
	ResultFailNoAvailableScan      = -2
	ResultFailNoCentralPlateau     = -3
	ResultFailNoConsistentSequence = -4
	ResultFailNoBounds             = -5
	ResultFailTooHecticPlateaux    = -6
	ResultFailTooSparsePlateaux    = -7
	ResultFailDisconnect           = -8
)

// Detector tunables.
const (
	// MaxTrackWidth is the assumed maximal road width in metres; strokes
	// shorter than this cannot span a road.
	MaxTrackWidth = 6.0
	// DefaultPlateauLackTolerance is the count of unfit plateaux ending a
	// side; NominalPlateauLackTolerance is the production setting.
	DefaultPlateauLackTolerance = 11
	NominalPlateauLackTolerance = 5
	// NoBoundsTolerance is the scan count granted to find supported road
	// margins before giving up.
	NoBoundsTolerance = 10
	// DefaultInitialTrackExtent is the scan count of the trial pass that
	// feeds stroke realignment; zero skips realignment.
	DefaultInitialTrackExtent = 6
	// DefaultMinDensity is the minimal accepted-plateau percentage.
	DefaultMinDensity = 60
	// Maximal relative shift length of a track before it is pruned as
	// hectic; the nominal value is the production setting.
	DefaultMaxShiftLength = 1.65
	NominalMaxShiftLength = 0.5
	posIncr               = 0.05
	// NbSideTrials is the lateral retry count on each side of a failed
	// plateau position.
	NbSideTrials = 5
)

// PointGrid is the point source a detection reads: cell lookups over a
// tiled LiDAR ground point set.
type PointGrid interface {
	CollectPoints(out *[]geom.Pt3f, i, j int) bool
	CollectPointsAndLabels(out *[]geom.Pt3f, tls, lbs *[]int, i, j int) bool
	LabelAsTrack(tileIdx, pointIdx int)
}

// Detector walks a seed stroke outward scan by scan, fitting a plateau to
// each cross-section of the point cloud, and assembles consistent fits
// into a carriage track.
type Detector struct {
	pfeat *PlateauFeature

	ptset  PointGrid
	subdiv int
	csize  float32

	scanp   scanner.Provider
	discanp scanner.Provider

	autoOn    bool
	connectOn bool

	profileRecordOn      bool
	plateauLackTolerance int
	initialTrackExtent   int
	densityInsensitive   bool
	densityPruning       bool
	minDensity           int
	shiftLengthPruning   bool
	maxShiftLength       float32

	// Input stroke and its realigned counterpart.
	ip1, ip2 geom.Pt2i
	fp1, fp2 geom.Pt2i

	// Trial (initial) and final detections with their statuses.
	ict     *CarriageTrack
	istatus int
	fct     *CarriageTrack
	fstatus int

	// Per-side prediction registers, reset at each side start.
	regs *registerPack

	// Bound discovery state shared by the two sides of one detection.
	initialRef       int
	initialRefs      float32
	initialRefe      float32
	initialRefh      float32
	initialUnbounded bool

	outCount int
}

// NewDetector returns a detector with default tunables and plateau model.
func NewDetector() *Detector {
	d := &Detector{
		pfeat:                NewPlateauFeature(),
		plateauLackTolerance: DefaultPlateauLackTolerance,
		initialTrackExtent:   DefaultInitialTrackExtent,
		densityPruning:       true,
		minDensity:           DefaultMinDensity,
		shiftLengthPruning:   true,
		maxShiftLength:       DefaultMaxShiftLength,
		initialUnbounded:     true,
		regs: newRegisterPack(DefaultPosHeightRegisterSize,
			DefaultUnstabilityRegisterSize),
	}
	return d
}

// Model returns the plateau feature set, live for tuning.
func (d *Detector) Model() *PlateauFeature { return d.pfeat }

// SetPointsGrid attaches the point source and the grid geometry: the DTM
// raster is width x height cells of csize metres, and the point grid is
// subdivided subdiv times finer.
func (d *Detector) SetPointsGrid(ptset PointGrid, width, height, subdiv int, csize float32) {
	d.ptset = ptset
	d.subdiv = subdiv
	d.csize = csize
	d.scanp.SetSize(width*subdiv, height*subdiv)
	d.discanp.SetSize(width, height)
}

// SetAutomatic switches automatic mode: no prior anchor, lateral trials on
// the central plateau.
func (d *Detector) SetAutomatic(on bool) { d.autoOn = on }

// IsAutomatic reports whether automatic mode is on.
func (d *Detector) IsAutomatic() bool { return d.autoOn }

// SetConnectOn requires each accepted plateau to be adjacent to its
// predecessor (net-build tracking only).
func (d *Detector) SetConnectOn(on bool) { d.connectOn = on }

// IsConnectOn reports whether connected tracking is required.
func (d *Detector) IsConnectOn() bool { return d.connectOn }

// SetProfileRecord keeps the raw cross-section samples on each section.
func (d *Detector) SetProfileRecord(on bool) { d.profileRecordOn = on }

// PlateauLackTolerance returns the current lack tolerance.
func (d *Detector) PlateauLackTolerance() int { return d.plateauLackTolerance }

// SetPlateauLackTolerance sets the count of unfit plateaux ending a side.
func (d *Detector) SetPlateauLackTolerance(nb int) {
	if nb < 0 {
		nb = 0
	}
	d.plateauLackTolerance = nb
}

// IncPlateauLackTolerance shifts the lack tolerance by dir.
func (d *Detector) IncPlateauLackTolerance(dir int) {
	d.SetPlateauLackTolerance(d.plateauLackTolerance + dir)
}

// MaxShiftLength returns the hectic-track threshold.
func (d *Detector) MaxShiftLength() float32 { return d.maxShiftLength }

// SetMaxShiftLength sets the hectic-track threshold.
func (d *Detector) SetMaxShiftLength(val float32) {
	if val < 0 {
		val = 0
	}
	d.maxShiftLength = val
}

// IncMaxShiftLength shifts the hectic-track threshold by inc steps.
func (d *Detector) IncMaxShiftLength(inc int) {
	d.SetMaxShiftLength(d.maxShiftLength + float32(inc)*posIncr)
}

// MinDensity returns the sparse-track threshold (percent).
func (d *Detector) MinDensity() int { return d.minDensity }

// SetMinDensity sets the sparse-track threshold, clamped to [0, 100].
func (d *Detector) SetMinDensity(val int) {
	if val > 100 {
		val = 100
	} else if val < 0 {
		val = 0
	}
	d.minDensity = val
}

// IncMinDensity shifts the sparse-track threshold.
func (d *Detector) IncMinDensity(inc int) { d.SetMinDensity(d.minDensity + inc) }

// SetDensityPruning toggles the sparse-track filter.
func (d *Detector) SetDensityPruning(on bool) { d.densityPruning = on }

// SetShiftLengthPruning toggles the hectic-track filter.
func (d *Detector) SetShiftLengthPruning(on bool) { d.shiftLengthPruning = on }

// SetDensityInsensitive counts unfit plateaux toward the lack tolerance
// even on sparse cross-sections.
func (d *Detector) SetDensityInsensitive(on bool) { d.densityInsensitive = on }

// IsInitializationOn reports whether the trial pass and realignment run.
func (d *Detector) IsInitializationOn() bool { return d.initialTrackExtent != 0 }

// SwitchInitialization toggles the trial pass.
func (d *Detector) SwitchInitialization() {
	if d.initialTrackExtent != 0 {
		d.initialTrackExtent = 0
	} else {
		d.initialTrackExtent = DefaultInitialTrackExtent
	}
}

// SetInitialTrackExtent sets the trial pass extent; zero skips it.
func (d *Detector) SetInitialTrackExtent(nb int) { d.initialTrackExtent = nb }

// Status returns the final detection status.
func (d *Detector) Status() int { return d.fstatus }

// InitialStatus returns the trial detection status.
func (d *Detector) InitialStatus() int { return d.istatus }

// GetOuts returns the count of point lookups outside loaded tiles.
func (d *Detector) GetOuts() int { return d.outCount }

// ResetOuts clears the out-of-tile counter.
func (d *Detector) ResetOuts() { d.outCount = 0 }

// Clear drops both pending detections.
func (d *Detector) Clear() {
	d.fct = nil
	d.fstatus = ResultNone
	d.ict = nil
	d.istatus = ResultNone
}

// PreserveDetection transfers ownership of the final track to the caller:
// the detector forgets it without invalidating it.
func (d *Detector) PreserveDetection() {
	d.fct = nil
}

// getInputStroke returns the trial stroke or the realigned one.
func (d *Detector) getInputStroke(initial bool) (geom.Pt2i, geom.Pt2i) {
	if initial {
		return d.ip1, d.ip2
	}
	return d.fp1, d.fp2
}

// compIFurther orders profile samples by quantised distance then height.
func compIFurther(p1, p2 geom.Pt2f) bool {
	f1 := math.Floor(float64(p1.X) * 1000)
	f2 := math.Floor(float64(p2.X) * 1000)
	if f1 != f2 {
		return f1 < f2
	}
	return math.Floor(float64(p1.Y)*1000) < math.Floor(float64(p2.Y)*1000)
}

func sortProfile(pts []geom.Pt2f) {
	sort.SliceStable(pts, func(i, j int) bool {
		return compIFurther(pts[i], pts[j])
	})
}

// collectProfile gathers the LiDAR returns under the scan cells and
// projects them on the stroke axis, yielding (distance, height) samples.
// Lookups outside loaded tiles bump the outs counter and are not errors.
func (d *Detector) collectProfile(pix []geom.Pt2i, p1f geom.Pt2f, p12 geom.Vr2f, l12 float32) []geom.Pt2f {
	var pts []geom.Pt2f
	var ptcl []geom.Pt3f
	for _, cell := range pix {
		ptcl = ptcl[:0]
		if !d.ptset.CollectPoints(&ptcl, cell.X, cell.Y) {
			d.outCount++
		}
		for _, p := range ptcl {
			pcl := geom.Vr2f{X: p.X - p1f.X, Y: p.Y - p1f.Y}
			pts = append(pts, geom.Pt2f{X: pcl.ScalarProduct(p12) / l12, Y: p.Z})
		}
	}
	return pts
}

// strokeGeometry derives the metre-space frame of a stroke: the first cell
// centre, the stroke vector, its length and the scan offset of its middle.
func (d *Detector) strokeGeometry(p1, p2 geom.Pt2i) (p1f geom.Pt2f, p12 geom.Vr2f, l12 float32, dssN geom.Vr2i, scan0 int) {
	p12 = geom.Vr2f{
		X: d.csize * float32(p2.X-p1.X),
		Y: d.csize * float32(p2.Y-p1.Y),
	}
	p1f = geom.Pt2f{
		X: d.csize * (float32(p1.X) + 0.5),
		Y: d.csize * (float32(p1.Y) + 0.5),
	}
	l12 = float32(math.Sqrt(float64(p12.X*p12.X + p12.Y*p12.Y)))
	dssPosX := float32(p1.X) + float32(p2.X-p1.X)*0.5
	dssPosY := float32(p1.Y) + float32(p2.Y-p1.Y)*0.5
	dssN = p1.VectorTo(p2)
	if dssN.X < 0 {
		dssN = dssN.Inverted()
	}
	valc := float32(dssN.X)*dssPosX + float32(dssN.Y)*dssPosY
	scan0 = roundToInt(valc)
	return
}

func roundToInt(v float32) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}

// Detect runs a full detection on the seed stroke (p1, p2) in DTM cell
// coordinates and returns the carriage track, or nil with the status
// holding the failure cause. A track ended by NO_BOUNDS or DISCONNECT is
// returned non-nil, with that status.
func (d *Detector) Detect(p1, p2 geom.Pt2i) *CarriageTrack {
	d.Clear()

	d.ip1, d.ip2 = p1, p2
	d.fp1, d.fp2 = p1, p2
	p12 := geom.Vr2f{
		X: d.csize * float32(p2.X-p1.X),
		Y: d.csize * float32(p2.Y-p1.Y),
	}
	l12 := float32(math.Sqrt(float64(p12.X*p12.X + p12.Y*p12.Y)))
	if l12 < MaxTrackWidth {
		d.fstatus = ResultFailTooNarrowInput
		if d.initialTrackExtent != 0 {
			d.istatus = ResultFailTooNarrowInput
		}
		return nil
	}

	if d.autoOn {
		d.detectAuto()
	} else {
		d.detectInner(d.initialTrackExtent)
	}

	if d.ict != nil && d.istatus != ResultFailNoCentralPlateau {
		// Aligns the input stroke orthogonally to the detected track and
		// reruns the detection along the aligned stroke.
		fact := d.csize / (p12.X*p12.X + p12.Y*p12.Y)
		p1f := geom.Pt2f{
			X: d.csize * (float32(p1.X) + 0.5),
			Y: d.csize * (float32(p1.Y) + 0.5),
		}
		lshift := lateralShift(p12, fact)
		var pc []geom.Pt2f
		rpl := d.ict.Plateau(0)
		rplc := (rpl.InternalEnd + rpl.InternalStart) / (2 * l12)
		pc = append(pc, geom.Pt2f{
			X: p1f.X + p12.X*rplc,
			Y: p1f.Y + p12.Y*rplc,
		})
		for i := 1; i < d.initialTrackExtent; i++ {
			if rpl = d.ict.Plateau(i); rpl != nil && rpl.Reliable() {
				rplc = (rpl.InternalEnd + rpl.InternalStart) / (2 * l12)
				pc = append(pc, geom.Pt2f{
					X: p1f.X + float32(i)*lshift.X + p12.X*rplc,
					Y: p1f.Y + float32(i)*lshift.Y + p12.Y*rplc,
				})
			}
			if rpl = d.ict.Plateau(-i); rpl != nil && rpl.Reliable() {
				rplc = (rpl.InternalEnd + rpl.InternalStart) / (2 * l12)
				pc = append(pc, geom.Pt2f{
					X: p1f.X - float32(i)*lshift.X + p12.X*rplc,
					Y: p1f.Y - float32(i)*lshift.Y + p12.Y*rplc,
				})
			}
		}
		if len(pc) > d.initialTrackExtent {
			d.alignInput(pc)
			d.detectInner(0)
		}
	}
	if d.fct != nil {
		if d.fstatus == ResultFailNoConsistentSequence ||
			d.fstatus == ResultFailNoCentralPlateau {
			return nil
		}
		if d.shiftLengthPruning && d.fct.RelativeShiftLength() > d.maxShiftLength {
			d.fct.SetStatus(ResultFailTooHecticPlateaux)
			d.fstatus = ResultFailTooHecticPlateaux
			return nil
		}
		if d.densityPruning &&
			d.fct.NbHoles()*100 > d.fct.Spread()*(100-d.minDensity) {
			d.fct.SetStatus(ResultFailTooSparsePlateaux)
			d.fstatus = ResultFailTooSparsePlateaux
			return nil
		}
		if d.fstatus == ResultNone {
			d.fstatus = ResultOK
			d.fct.SetStatus(ResultOK)
		}
	}
	return d.fct
}

// lateralShift derives the one-scan displacement vector orthogonal to the
// stroke, split over the eight sign and magnitude cases of the direction.
// The two mixed-product cases are the observed behaviour; tests pin them.
func lateralShift(p12 geom.Vr2f, fact float32) geom.Vr2f {
	var ls geom.Vr2f
	if p12.X > 0 {
		if p12.Y > 0 {
			if p12.X > p12.Y {
				ls = geom.Vr2f{X: -(p12.X * p12.Y) * fact, Y: (p12.X * p12.X) * fact}
			} else {
				ls = geom.Vr2f{X: -(p12.Y * p12.Y) * fact, Y: (p12.X * p12.Y) * fact}
			}
		} else {
			if p12.X > -p12.Y {
				ls = geom.Vr2f{X: -(p12.X * p12.Y) * fact, Y: (p12.X * p12.X) * fact}
			} else {
				ls = geom.Vr2f{X: (p12.Y * p12.Y) * fact, Y: -(p12.X * p12.Y) * fact}
			}
		}
	} else {
		if p12.Y > 0 {
			if -p12.X > p12.Y {
				ls = geom.Vr2f{X: (p12.X * p12.Y) * fact, Y: -(p12.X * p12.X) * fact}
			} else {
				ls = geom.Vr2f{X: -(p12.Y * p12.Y) * fact, Y: (p12.X * p12.Y) * fact}
			}
		} else {
			if p12.X < p12.Y {
				ls = geom.Vr2f{X: (p12.X * p12.Y) * fact, Y: -(p12.X * p12.X) * fact}
			} else {
				ls = geom.Vr2f{X: (p12.Y * p12.Y) * fact, Y: -(p12.X * p12.Y) * fact}
			}
		}
	}
	return ls
}

// centralScan creates the point and display scanners on a stroke and
// gathers the central cross-section, subdiv fine scans thick.
func (d *Detector) centralScan(p1, p2 geom.Pt2i) (ds, disp *scanner.DirectionalScanner, pix, dispix []geom.Pt2i) {
	ds = d.scanp.GetScanner(
		geom.Pt2i{X: p1.X*d.subdiv + d.subdiv/2, Y: p1.Y*d.subdiv + d.subdiv/2},
		geom.Pt2i{X: p2.X*d.subdiv + d.subdiv/2, Y: p2.Y*d.subdiv + d.subdiv/2},
		true)
	ds.ReleaseClearance()
	disp = d.discanp.GetScanner(p1, p2, true)

	nbp := ds.First(&pix)
	for i := 0; nbp != 0 && i < d.subdiv/2; i++ {
		nbp = ds.NextOnRight(&pix)
	}
	nbp = 1
	for i := 0; nbp != 0 && i < d.subdiv-1-d.subdiv/2; i++ {
		nbp = ds.NextOnLeft(&pix)
	}
	disp.First(&dispix)
	return
}

// detectInner runs one detection pass. A non-zero exlimit bounds each side
// to exlimit-1 scans and stores the result as the trial detection;
// exlimit 0 runs unbounded and stores the final detection.
func (d *Detector) detectInner(exlimit int) {
	p1, p2 := d.getInputStroke(exlimit != 0)
	p1f, p12, l12, _, scan0 := d.strokeGeometry(p1, p2)

	ds, disp, pix, dispix := d.centralScan(p1, p2)
	if len(pix) == 0 {
		if exlimit != 0 {
			d.istatus = ResultFailNoAvailableScan
		} else {
			d.fstatus = ResultFailNoAvailableScan
		}
		return
	}

	cpts := d.collectProfile(pix, p1f, p12, l12)
	sortProfile(cpts)

	ct := NewCarriageTrack()
	ct.SetDetectionSeed(p1, p2, d.csize)
	if exlimit != 0 {
		d.ict = ct
	} else {
		d.fct = ct
	}

	cpl := NewPlateau(d.pfeat, scan0)
	success := cpl.Detect(cpts, false, 0)
	if !success && !cpl.NoOptimalHeight() {
		cpl2 := NewPlateau(d.pfeat, scan0)
		if cpl2.Detect(cpts, true, cpl.OptimalHeight()) {
			success = true
			// Keeps the solution nearer to the expected width.
			dw := absf(cpl.EstimatedWidth() - d.pfeat.StartLength)
			dw2 := absf(cpl2.EstimatedWidth() - d.pfeat.StartLength)
			if cpl.Status() == PlateauOptimalHeightUnderUsed && dw <= dw2 {
				cpl.AcceptResult()
			} else {
				cpl = cpl2
			}
		}
	}
	var profile []geom.Pt2f
	if d.profileRecordOn {
		profile = cpts
	}
	ct.Start(cpl, dispix, profile, d.scanp.IsLastScanReversed())
	if success {
		ct.Accept(0)
	} else {
		ct.SetStatus(ResultFailNoCentralPlateau)
		if exlimit != 0 {
			d.istatus = ResultFailNoCentralPlateau
		} else {
			d.fstatus = ResultFailNoCentralPlateau
		}
		return
	}

	// Tracks each side from the central references; if the central plateau
	// was unbounded and only the second side found bounds, the first side
	// gets a second chance with the fresh anchors.
	if cpl.Bounded() {
		d.initialUnbounded = false
	} else {
		d.initialUnbounded = true
	}
	d.initialRefs = cpl.InternalStart
	d.initialRefe = cpl.InternalEnd
	d.initialRefh = cpl.MinHeight
	ds2 := ds.GetCopy()
	disp2 := disp.GetCopy()
	reversed := d.scanp.IsLastScanReversed()

	d.regs.reset(cpl.Reliable(), cpl.EstimatedCenter(), cpl.MinHeight)
	d.trackSide(true, reversed, exlimit, ds, disp, p1f, p12, l12,
		d.initialRefs, d.initialRefe, d.initialRefh, nil)
	firstUnbounded := d.initialUnbounded

	d.regs.reset(cpl.Reliable(), cpl.EstimatedCenter(), cpl.MinHeight)
	d.trackSide(false, reversed, exlimit, ds2, disp2, p1f, p12, l12,
		d.initialRefs, d.initialRefe, d.initialRefh, nil)

	if firstUnbounded && !d.initialUnbounded {
		d.regs.reset(cpl.Reliable(), cpl.EstimatedCenter(), cpl.MinHeight)
		d.trackSide(true, reversed, exlimit, ds, disp, p1f, p12, l12,
			d.initialRefs, d.initialRefe, d.initialRefh, nil)
	}
	if d.pfeat.TailMinSize != 0 && ct.Prune(d.pfeat.TailMinSize) {
		ct.SetStatus(ResultFailNoConsistentSequence)
		if exlimit != 0 {
			d.istatus = ResultFailNoConsistentSequence
		} else {
			d.fstatus = ResultFailNoConsistentSequence
		}
	}
}

// detectAuto runs the automatic-mode detection: no prior anchor, the
// central plateau position is searched laterally, and net-build tracking
// references the previous plateau instead of the decoupled triple.
func (d *Detector) detectAuto() {
	p1, p2 := d.getInputStroke(false)
	p1f, p12, l12, _, scan0 := d.strokeGeometry(p1, p2)

	ds, disp, pix, dispix := d.centralScan(p1, p2)
	if len(pix) == 0 {
		d.fstatus = ResultFailNoAvailableScan
		return
	}

	cpts := d.collectProfile(pix, p1f, p12, l12)
	sortProfile(cpts)

	d.fct = NewCarriageTrack()
	d.fct.SetDetectionSeed(p1, p2, d.csize)

	tests := make([]float32, NbSideTrials*2)
	for i := 0; i < NbSideTrials; i++ {
		tests[2*i] = d.pfeat.FirstSearchDistance * float32(i+1)
		tests[2*i+1] = -d.pfeat.FirstSearchDistance * float32(i+1)
	}
	cpl := NewPlateau(d.pfeat, scan0)
	found := cpl.Track(cpts, nil, 0, l12, 0, 0, 0)
	for _, t := range tests {
		cpl2 := NewPlateau(d.pfeat, scan0)
		success := cpl2.Track(cpts, nil, 0, l12, 0, t, 0)
		if success {
			found = true
		}
		if success && cpl2.ThinerThan(cpl) {
			cpl = cpl2
		}
	}
	var profile []geom.Pt2f
	if d.profileRecordOn {
		profile = cpts
	}
	d.fct.Start(cpl, dispix, profile, d.scanp.IsLastScanReversed())
	if d.pfeat.NetBuild {
		if cpl.ConsistentWidth() {
			d.fct.Accept(0)
		}
	} else if found {
		d.fct.Accept(0)
	}
	if !found {
		d.fct.SetStatus(ResultFailNoCentralPlateau)
		d.fstatus = ResultFailNoCentralPlateau
		return
	}

	if cpl.Bounded() {
		d.initialUnbounded = false
	} else {
		d.initialUnbounded = true
	}
	d.initialRef = 0
	d.initialRefs = cpl.InternalStart
	d.initialRefe = cpl.InternalEnd
	d.initialRefh = cpl.MinHeight
	ds2 := ds.GetCopy()
	disp2 := disp.GetCopy()
	reversed := d.scanp.IsLastScanReversed()

	netRef := func() *Plateau {
		if d.pfeat.NetBuild {
			return d.fct.Plateau(d.initialRef)
		}
		return nil
	}

	d.regs.reset(cpl.Reliable(), cpl.EstimatedCenter(), cpl.MinHeight)
	d.trackSide(true, reversed, 0, ds, disp, p1f, p12, l12,
		d.initialRefs, d.initialRefe, d.initialRefh, netRef())
	firstUnbounded := d.initialUnbounded

	d.regs.reset(cpl.Reliable(), cpl.EstimatedCenter(), cpl.MinHeight)
	d.trackSide(false, reversed, 0, ds2, disp2, p1f, p12, l12,
		d.initialRefs, d.initialRefe, d.initialRefh, netRef())

	if firstUnbounded && !d.initialUnbounded {
		d.regs.reset(cpl.Reliable(), cpl.EstimatedCenter(), cpl.MinHeight)
		d.trackSide(true, reversed, 0, ds, disp, p1f, p12, l12,
			d.initialRefs, d.initialRefe, d.initialRefh, netRef())
	}
	if d.pfeat.TailMinSize != 0 && d.fct.Prune(d.pfeat.TailMinSize) {
		d.fct.SetStatus(ResultFailNoConsistentSequence)
		d.fstatus = ResultFailNoConsistentSequence
	}
}

// setSideStatus stores a tracking failure on the proper slots.
func (d *Detector) setSideStatus(ct *CarriageTrack, exlimit, status int) {
	ct.SetStatus(status)
	if exlimit != 0 {
		d.istatus = status
	} else {
		d.fstatus = status
	}
}

// trackSide walks one side of the track. The signed scan index num runs
// -1, -2, ... on the right and 1, 2, ... on the left; tracking ends on an
// empty scan, on exlimit, or when the failure tolerance runs out. A
// non-nil ref switches to net-build stepping where the previous plateau is
// the reference.
func (d *Detector) trackSide(onright, reversed bool, exlimit int,
	ds, disp *scanner.DirectionalScanner,
	p1f geom.Pt2f, p12 geom.Vr2f, l12 float32,
	refs, refe, refh float32, ref *Plateau) {

	search := true
	nbfail := 0
	num := 1
	if onright {
		num = -1
		exlimit = -exlimit
	}
	ct := d.fct
	if exlimit != 0 {
		ct = d.ict
	}
	ct.Clear(onright)
	confdist := 1
	ssP1, ssP2 := d.getInputStroke(exlimit != 0)
	ssP12 := ssP1.VectorTo(ssP2)
	ssL12 := float32(math.Sqrt(float64(ssP12.Norm2())))
	dssN := ssP12
	if dssN.X < 0 {
		dssN = dssN.Inverted()
	}
	rightward := (onright && !reversed) || (reversed && !onright)

	for search && num != exlimit {
		// Re-centres the strip on the predicted plateau position.
		var pcenter float32
		if ref != nil {
			pcenter = ref.EstimatedCenter()
		} else {
			pcenter = (refs + refe) / 2
		}
		posx := float32(ssP1.X) + (float32(ssP12.X)/ssL12)*pcenter/d.csize
		posy := float32(ssP1.Y) + (float32(ssP12.Y)/ssL12)*pcenter/d.csize
		valc := float32(dssN.X)*posx + float32(dssN.Y)*posy
		scanShift := roundToInt(valc)
		disp.BindTo(dssN.X, dssN.Y, scanShift)
		ds.BindTo(dssN.X, dssN.Y, scanShift*d.subdiv+d.subdiv/2)

		var pix, dispix []geom.Pt2i
		if rightward {
			disp.NextOnRight(&dispix)
		} else {
			disp.NextOnLeft(&dispix)
		}
		if len(dispix) == 0 {
			search = false
		} else {
			for i := 0; search && i < d.subdiv; i++ {
				if rightward {
					if ds.NextOnRight(&pix) == 0 {
						search = false
					}
				} else if ds.NextOnLeft(&pix) == 0 {
					search = false
				}
			}
		}
		if len(pix) == 0 {
			search = false
		} else {
			pts := d.collectProfile(pix, p1f, p12, l12)
			sortProfile(pts)

			pl := d.fitPlateau(pts, scanShift, refs, refe, refh, confdist, ref)
			var profile []geom.Pt2f
			if d.profileRecordOn {
				profile = pts
			}
			ct.Add(onright, pl, dispix, profile)

			// An obstacle ends net-build tracking.
			if d.pfeat.NetBuild && pl.Impassable() {
				search = false
			}

			// Plateau lacks only count on dense cross-sections unless the
			// detector is density insensitive.
			if pl.Status() == PlateauOK {
				nbfail = 0
			} else if d.densityInsensitive || pl.HasEnoughPoints() {
				if nbfail++; nbfail >= d.plateauLackTolerance {
					search = false
				}
			}

			// Bound discovery: the first bounded accepted plateau anchors
			// the reference interval; past the tolerance the track fails.
			if search && d.initialUnbounded {
				// Acceptance happens further down; its criterion is tested here.
				if pl.Bounded() && pl.Status() == PlateauOK && pl.Reliable() {
					d.initialUnbounded = false
					if ref != nil {
						d.initialRef = num
					} else {
						d.initialRefs = pl.InternalStart
						d.initialRefe = pl.InternalEnd
					}
				} else if num == NoBoundsTolerance || num == -NoBoundsTolerance {
					d.setSideStatus(ct, exlimit, ResultFailNoBounds)
					search = false
				}
			}

			if search {
				pl.SetDeviation(d.regs.pos.update(pl.Possible(), pl.EstimatedCenter()))
				pl.SetSlope(d.regs.height.update(pl.ConsistentHeight(), pl.MinHeight))

				if ref == nil {
					// Reference pattern update with the predictors.
					if pl.Possible() {
						refs = pl.EstimatedStart
						refe = pl.EstimatedEnd
					}
					if d.pfeat.DeviationPrediction || !pl.Possible() {
						refs += pl.EstimatedDeviation()
						refe += pl.EstimatedDeviation()
					}
					if pl.ConsistentHeight() {
						refh = pl.MinHeight
					}
					if d.pfeat.SlopePrediction || !pl.ConsistentHeight() {
						refh += pl.EstimatedSlope()
					}
				}
			}
			if ref != nil {
				ref = pl
			}

			// Conditional acceptance with back-fill of the rejected run.
			if pl.Status() == PlateauOK && pl.Reliable() {
				if ref != nil && d.connectOn {
					if !d.connectRun(ct, pl, num, confdist) {
						d.setSideStatus(ct, exlimit, ResultFailDisconnect)
						search = false
					}
				} else {
					ct.Accept(num)
					c1 := pl.EstimatedCenter()
					anchor := num + confdist
					if num > 0 {
						anchor = num - confdist
					}
					if lpl := ct.Plateau(anchor); lpl != nil {
						dc := (lpl.EstimatedCenter() - c1) / float32(confdist)
						for i := 1; i < confdist; i++ {
							locnum := num + i
							if num > 0 {
								locnum = num - i
							}
							if ipl := ct.Plateau(locnum); ipl != nil &&
								ipl.Contains(c1+dc*float32(i)) {
								ct.Accept(locnum)
							}
						}
					}
				}
				confdist = 1
				if ref != nil && search {
					prev := num + 1
					if num > 0 {
						prev = num - 1
					}
					if !pl.IsConnectedTo(ct.Plateau(prev)) {
						d.setSideStatus(ct, exlimit, ResultFailDisconnect)
						search = false
					}
				}
			} else {
				confdist++
			}
		}
		if onright {
			num--
		} else {
			num++
		}
	}
}

// fitPlateau runs the tracked fit with its lateral retries: first at the
// predicted position, then stepped to either side, keeping the best fit by
// status order. The unstability register widens the sweep when the bounds
// drift apart.
func (d *Detector) fitPlateau(pts []geom.Pt2f, scanShift int,
	refs, refe, refh float32, confdist int, ref *Plateau) *Plateau {

	pl := NewPlateau(d.pfeat, scanShift)
	pl.Track(pts, ref, refs, refe, refh, 0, confdist)
	if pl.Status() == PlateauOK {
		d.updateUnstability(pl)
		return pl
	}
	if ref != nil {
		// Net-build sweeps the full trial fan.
		for i := 0; i < NbSideTrials*2; i++ {
			offset := d.pfeat.SearchDistance * float32(i/2+1)
			if i%2 == 1 {
				offset = -offset
			}
			pl2 := NewPlateau(d.pfeat, scanShift)
			pl2.Track(pts, ref, refs, refe, refh, offset, confdist)
			if pl2.Status() > pl.Status() {
				pl = pl2
				if pl.Status() == PlateauOK {
					break
				}
			}
		}
		d.updateUnstability(pl)
		return pl
	}
	pl2 := NewPlateau(d.pfeat, scanShift)
	pl2.Track(pts, nil, refs, refe, refh, d.pfeat.SearchDistance, confdist)
	if pl2.Status() > pl.Status() {
		pl = pl2
	}
	if pl.Status() != PlateauOK {
		pl3 := NewPlateau(d.pfeat, scanShift)
		pl3.Track(pts, nil, refs, refe, refh, -d.pfeat.SearchDistance, confdist)
		if pl3.Status() > pl.Status() {
			pl = pl3
		}
	}
	// A drifting bound hints where the plateau went; one more try there.
	if stab := d.updateUnstability(pl); stab != 0 && pl.Status() != PlateauOK {
		pl4 := NewPlateau(d.pfeat, scanShift)
		pl4.Track(pts, nil, refs, refe, refh,
			float32(stab)*d.pfeat.SearchDistance, confdist)
		if pl4.Status() > pl.Status() {
			pl = pl4
		}
	}
	return pl
}

func (d *Detector) updateUnstability(pl *Plateau) int {
	return d.regs.unstab.update(pl.InternalStart, pl.InternalEnd,
		pl.boundedStart, pl.boundedEnd, pl.EstimatedWidth(), d.pfeat.MaxLength)
}

// connectRun back-fills a rejected run only when every intermediate
// plateau fits the path interpolated between the accepted frame.
func (d *Detector) connectRun(ct *CarriageTrack, pl *Plateau, num, confdist int) bool {
	anchor := num + confdist
	if num > 0 {
		anchor = num - confdist
	}
	fpl := ct.Plateau(anchor)
	hpl := pl
	locnum := num
	cdist := confdist
	cleaning := true
	for cleaning && cdist != 1 {
		if locnum < 0 {
			locnum++
		} else {
			locnum--
		}
		lpl := ct.Plateau(locnum)
		cleaning = lpl != nil && lpl.Fit(hpl, fpl, cdist)
		hpl = lpl
		cdist--
	}
	if !cleaning {
		return false
	}
	for i := 1; i < confdist; i++ {
		if num < 0 {
			ct.Accept(num + i)
		} else {
			ct.Accept(num - i)
		}
	}
	ct.Accept(num)
	return true
}

// alignInput fits a line to the collected plateau centres and replaces the
// working stroke by its orthogonal through the fit, half MaxTrackWidth on
// each side.
func (d *Detector) alignInput(pts []geom.Pt2f) {
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	var xmin, xmax, ymin, ymax float64
	for i, p := range pts {
		xs[i] = float64(p.X)
		ys[i] = float64(p.Y)
		if i == 0 {
			xmin, xmax = xs[i], xs[i]
			ymin, ymax = ys[i], ys[i]
			continue
		}
		if xs[i] < xmin {
			xmin = xs[i]
		} else if xs[i] > xmax {
			xmax = xs[i]
		}
		if ys[i] < ymin {
			ymin = ys[i]
		} else if ys[i] > ymax {
			ymax = ys[i]
		}
	}
	xm, xv := stat.MeanVariance(xs, nil)
	ym, yv := stat.MeanVariance(ys, nil)
	xyv := stat.Covariance(xs, ys, nil)

	// Linear approximation a*x - b*y = c, along the dominant spread.
	a, b := 1.0, 1.0
	var c float64
	if xmax-xmin > ymax-ymin {
		a = xyv / xv
		c = a*xm - ym
	} else {
		b = xyv / yv
		c = xm - b*ym
	}

	dd := b*xs[0] + a*ys[0]
	den := a*a + b*b
	x := (a*c + b*dd) / den
	y := (a*dd - b*c) / den
	dir := 1.0
	if a*float64(d.ip2.X-d.ip1.X)-b*float64(d.ip2.Y-d.ip1.Y) < 0 {
		dir = -1.0
	}
	length := MaxTrackWidth * dir
	d.fp1 = geom.Pt2i{
		X: int((x - a*length) / float64(d.csize)),
		Y: int((y + b*length) / float64(d.csize)),
	}
	d.fp2 = geom.Pt2i{
		X: int((x + a*length) / float64(d.csize)),
		Y: int((y - b*length) / float64(d.csize)),
	}
}

// LabelPoints marks every LiDAR return supporting the accepted plateaux of
// a track in the point store (labelling mode).
func (d *Detector) LabelPoints(ct *CarriageTrack) {
	if !ct.IsValid() {
		return
	}
	ctp1 := ct.SeedStart()
	ctp2 := ct.SeedEnd()
	p1f := geom.Pt2f{
		X: d.csize * (float32(ctp1.X) + 0.5),
		Y: d.csize * (float32(ctp1.Y) + 0.5),
	}
	p12 := geom.Vr2f{
		X: d.csize * float32(ctp2.X-ctp1.X),
		Y: d.csize * float32(ctp2.Y-ctp1.Y),
	}
	l12 := float32(math.Sqrt(float64(p12.X*p12.X + p12.Y*p12.Y)))
	a := ctp2.X - ctp1.X
	b := ctp2.Y - ctp1.Y
	if a < 0 {
		a, b = -a, -b
	}
	ds := d.scanp.GetScanner(
		geom.Pt2i{X: ctp1.X*d.subdiv + d.subdiv/2, Y: ctp1.Y*d.subdiv + d.subdiv/2},
		geom.Pt2i{X: ctp2.X*d.subdiv + d.subdiv/2, Y: ctp2.Y*d.subdiv + d.subdiv/2},
		true)
	ds.ReleaseClearance()
	reversed := d.scanp.IsLastScanReversed()

	var pix0 []geom.Pt2i
	nbp := ds.First(&pix0)
	for i := 0; nbp != 0 && i < d.subdiv/2; i++ {
		nbp = ds.NextOnRight(&pix0)
	}
	nbp = 1
	for i := 0; nbp != 0 && i < d.subdiv-1-d.subdiv/2; i++ {
		nbp = ds.NextOnLeft(&pix0)
	}
	d.labelScan(ct.Plateau(0), pix0, p1f, p12, l12)

	search := true
	for i := -1; i >= -ct.RightScanCount(); i-- {
		pl := ct.Plateau(i)
		ds.BindTo(a, b, pl.ScanShift*d.subdiv+d.subdiv/2)
		var pix []geom.Pt2i
		for s := 0; search && s < d.subdiv; s++ {
			if reversed {
				if ds.NextOnLeft(&pix) == 0 {
					search = false
				}
			} else if ds.NextOnRight(&pix) == 0 {
				search = false
			}
		}
		d.labelScan(pl, pix, p1f, p12, l12)
	}

	search = true
	for i := 1; i <= ct.LeftScanCount(); i++ {
		pl := ct.Plateau(i)
		ds.BindTo(a, b, pl.ScanShift*d.subdiv+d.subdiv/2)
		var pix []geom.Pt2i
		for s := 0; search && s < d.subdiv; s++ {
			if reversed {
				if ds.NextOnRight(&pix) == 0 {
					search = false
				}
			} else if ds.NextOnLeft(&pix) == 0 {
				search = false
			}
		}
		d.labelScan(pl, pix, p1f, p12, l12)
	}
}

// labelScan labels the supporting samples of one accepted plateau.
func (d *Detector) labelScan(pl *Plateau, pix []geom.Pt2i, p1f geom.Pt2f, p12 geom.Vr2f, l12 float32) {
	if pl == nil || !pl.IsAccepted() {
		return
	}
	type sample struct {
		dist, z float32
		tl, lb  int
	}
	var cpts []sample
	var ptcl []geom.Pt3f
	var tls, lbs []int
	for _, cell := range pix {
		ptcl = ptcl[:0]
		tls = tls[:0]
		lbs = lbs[:0]
		d.ptset.CollectPointsAndLabels(&ptcl, &tls, &lbs, cell.X, cell.Y)
		for n, p := range ptcl {
			pcl := geom.Vr2f{X: p.X - p1f.X, Y: p.Y - p1f.Y}
			cpts = append(cpts, sample{
				dist: pcl.ScalarProduct(p12) / l12,
				z:    p.Z,
				tl:   tls[n],
				lb:   lbs[n],
			})
		}
	}
	sort.SliceStable(cpts, func(i, j int) bool {
		return compIFurther(
			geom.Pt2f{X: cpts[i].dist, Y: cpts[i].z},
			geom.Pt2f{X: cpts[j].dist, Y: cpts[j].z})
	})
	sNum, eNum := pl.StartIndex, pl.EndIndex
	if len(cpts) > eNum {
		for i := sNum; i <= eNum && i < len(cpts); i++ {
			d.ptset.LabelAsTrack(cpts[i].tl, cpts[i].lb)
		}
	}
}
