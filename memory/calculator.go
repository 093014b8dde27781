package memory

// Config is the part of a radar configuration the calculators read.
type Config interface {
	NumSubsweeps() uint8
	SweepsPerFrame() uint16
	// TotalPoints is the sum of num points over all active subsweeps.
	TotalPoints() int
}

type SessionCalculator struct {
	cfg Config
}

func NewSession(cfg Config) SessionCalculator {
	return SessionCalculator{cfg: cfg}
}

func (c SessionCalculator) ExternalHeap() int {
	return sat(sessionExternal(uint64(c.cfg.TotalPoints()) * uint64(c.cfg.SweepsPerFrame())))
}

func (c SessionCalculator) RSSHeap() int {
	return sat(sessionRSS(uint64(c.cfg.NumSubsweeps())))
}

func (c SessionCalculator) Requirements() Requirements {
	return newRequirements(c.ExternalHeap(), c.RSSHeap())
}

type PresenceCalculator struct {
	session SessionCalculator
}

func NewPresence(cfg Config) PresenceCalculator {
	return PresenceCalculator{session: NewSession(cfg)}
}

func (c PresenceCalculator) ExternalHeap() int {
	points := uint64(c.session.cfg.TotalPoints())
	return sat(uint64(c.session.ExternalHeap()) + presenceExternal(points))
}

func (c PresenceCalculator) RSSHeap() int {
	points := uint64(c.session.cfg.TotalPoints())
	return sat(uint64(c.session.RSSHeap()) + presenceRSS(points))
}

func (c PresenceCalculator) Requirements() Requirements {
	return newRequirements(c.ExternalHeap(), c.RSSHeap())
}

// BufferSize is a conservative processing buffer estimate.
func (c PresenceCalculator) BufferSize() int {
	return c.ExternalHeap()
}

type DistanceCalculator struct {
	session SessionCalculator
}

func NewDistance(cfg Config) DistanceCalculator {
	return DistanceCalculator{session: NewSession(cfg)}
}

func (c DistanceCalculator) ExternalHeap() int {
	points := uint64(c.session.cfg.TotalPoints())
	spf := uint64(c.session.cfg.SweepsPerFrame())
	return sat(uint64(c.session.ExternalHeap()) + distanceExternal(points, spf))
}

func (c DistanceCalculator) RSSHeap() int {
	return sat(uint64(c.session.RSSHeap()) + distanceRSS())
}

func (c DistanceCalculator) Requirements() Requirements {
	return newRequirements(c.ExternalHeap(), c.RSSHeap())
}

// BufferSize is a conservative processing buffer estimate.
func (c DistanceCalculator) BufferSize() int {
	return c.ExternalHeap()
}

func (c DistanceCalculator) StaticCalibrationSize() int {
	return sat(distanceStatic(uint64(c.session.cfg.TotalPoints())))
}
