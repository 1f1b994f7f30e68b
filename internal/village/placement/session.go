// Package placement holds the state machine for the one object the player is
// currently positioning.
package placement

import (
	"errors"
	"fmt"
	"math"

	"villagecraft.ai/internal/village/geom"
)

var (
	ErrSessionActive   = errors.New("placement: session already active")
	ErrNoActiveSession = errors.New("placement: no active session")
	ErrNotPositioning  = errors.New("placement: session is not positioning")
	ErrNonFinite       = errors.New("placement: value is not finite")
)

type State int

const (
	Positioning State = iota
	Confirmed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Positioning:
		return "POSITIONING"
	case Confirmed:
		return "CONFIRMED"
	case Cancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Session struct {
	CatalogID string
	Position  geom.Vec3
	RotationZ float64
	Scale     geom.Scale
	State     State
}

func (s *Session) transition(to State) error {
	if s.State != Positioning {
		return fmt.Errorf("%s -> %s: %w", s.State, to, ErrNotPositioning)
	}
	s.State = to
	return nil
}

// Controller owns the single session slot. A terminal transition frees the slot.
type Controller struct {
	grid   float64
	active *Session
}

func NewController(gridSize float64) *Controller {
	return &Controller{grid: geom.ClampGrid(gridSize)}
}

func (c *Controller) GridSize() float64 { return c.grid }

// Active returns a copy of the current session.
func (c *Controller) Active() (Session, bool) {
	if c.active == nil {
		return Session{}, false
	}
	return *c.active, true
}

func (c *Controller) Begin(catalogID string, at geom.Vec3) (Session, error) {
	if c.active != nil {
		return Session{}, fmt.Errorf("begin %s while %s is %s: %w", catalogID, c.active.CatalogID, c.active.State, ErrSessionActive)
	}
	pos, err := c.snap(at)
	if err != nil {
		return Session{}, err
	}
	c.active = &Session{
		CatalogID: catalogID,
		Position:  pos,
		Scale:     geom.UnitScale,
		State:     Positioning,
	}
	return *c.active, nil
}

// Reposition snaps raw to the grid and moves the session there.
func (c *Controller) Reposition(raw geom.Vec3) (geom.Vec3, error) {
	s, err := c.positioning()
	if err != nil {
		return geom.Vec3{}, err
	}
	pos, err := c.snap(raw)
	if err != nil {
		return geom.Vec3{}, err
	}
	s.Position = pos
	return s.Position, nil
}

// snap rejects positions that are, or round to, NaN or an infinity.
func (c *Controller) snap(raw geom.Vec3) (geom.Vec3, error) {
	if !raw.Finite() {
		return geom.Vec3{}, fmt.Errorf("position %+v: %w", raw, ErrNonFinite)
	}
	pos := geom.Snap(raw, c.grid)
	if !pos.Finite() {
		return geom.Vec3{}, fmt.Errorf("position %+v snaps to %+v: %w", raw, pos, ErrNonFinite)
	}
	return pos, nil
}

func (c *Controller) Rotate(z float64) error {
	s, err := c.positioning()
	if err != nil {
		return err
	}
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return fmt.Errorf("rotation %v: %w", z, ErrNonFinite)
	}
	s.RotationZ = z
	return nil
}

func (c *Controller) SetScale(sc geom.Scale) error {
	s, err := c.positioning()
	if err != nil {
		return err
	}
	if !sc.Finite() {
		return fmt.Errorf("scale %+v: %w", sc, ErrNonFinite)
	}
	if sc.X == 0 || sc.Y == 0 {
		return fmt.Errorf("placement: zero scale %+v", sc)
	}
	s.Scale = sc
	return nil
}

// Confirm moves the session to Confirmed and returns it. It never touches the ledger.
func (c *Controller) Confirm() (Session, error) {
	return c.finish(Confirmed)
}

// Cancel abandons the session. Cancelling is always free.
func (c *Controller) Cancel() (Session, error) {
	return c.finish(Cancelled)
}

func (c *Controller) finish(to State) (Session, error) {
	if c.active == nil {
		return Session{}, ErrNoActiveSession
	}
	if err := c.active.transition(to); err != nil {
		return Session{}, err
	}
	done := *c.active
	c.active = nil
	return done, nil
}

func (c *Controller) positioning() (*Session, error) {
	if c.active == nil {
		return nil, ErrNoActiveSession
	}
	if c.active.State != Positioning {
		return nil, ErrNotPositioning
	}
	return c.active, nil
}
