package hud

import (
	"villagecraft.ai/internal/protocol"
	"villagecraft.ai/internal/village"
	"villagecraft.ai/internal/village/catalog"
	"villagecraft.ai/internal/village/feedback"
	"villagecraft.ai/internal/village/geom"
	"villagecraft.ai/internal/village/placement"
	"villagecraft.ai/internal/village/world"
)

func vec(p [3]float64) geom.Vec3 { return geom.Vec3{X: p[0], Y: p[1], Z: p[2]} }

func objectMsg(o world.Object) *protocol.ObjectMsg {
	return &protocol.ObjectMsg{
		InstanceID:   o.InstanceID,
		CatalogID:    o.CatalogID,
		Pos:          [3]float64{o.Position.X, o.Position.Y, o.Position.Z},
		RotationZ:    o.RotationZ,
		Scale:        [2]float64{o.Scale.X, o.Scale.Y},
		OriginalCost: o.OriginalCost,
		State:        o.State.String(),
	}
}

func sessionMsg(s placement.Session, active bool) *protocol.SessionMsg {
	m := &protocol.SessionMsg{Active: active}
	if !active {
		return m
	}
	m.CatalogID = s.CatalogID
	m.Pos = [3]float64{s.Position.X, s.Position.Y, s.Position.Z}
	m.RotationZ = s.RotationZ
	m.Scale = [2]float64{s.Scale.X, s.Scale.Y}
	m.State = s.State.String()
	return m
}

func feedbackMsg(typ string, m feedback.Message) protocol.FeedbackMsg {
	out := protocol.FeedbackMsg{Type: typ, ProtocolVersion: protocol.Version, Seq: m.Seq}
	if typ == protocol.TypeMessage {
		out.Severity = string(m.Severity)
		out.Text = m.Text
		out.DurationMS = m.Duration.Milliseconds()
	}
	return out
}

func catalogSummary(c *catalog.Catalog) protocol.CatalogSummary {
	out := protocol.CatalogSummary{Digest: c.Digest, Entries: make([]protocol.CatalogEntry, 0, c.Len())}
	for _, e := range c.Entries() {
		out.Entries = append(out.Entries, protocol.CatalogEntry{
			ID:          e.ID,
			DisplayName: e.DisplayName,
			Cost:        e.Cost,
			RefundRatio: e.RefundRatio.String(),
			Width:       e.Footprint.Width,
			Depth:       e.Footprint.Depth,
		})
	}
	return out
}

// State snapshots the village. Call it on the event loop.
func State(v *village.Orchestrator) protocol.StateMsg {
	objs := v.Objects()
	st := protocol.StateMsg{Balance: v.Ledger().Balance(), Objects: make([]protocol.ObjectMsg, 0, len(objs))}
	for _, o := range objs {
		st.Objects = append(st.Objects, *objectMsg(o))
	}
	if s, ok := v.Session(); ok {
		st.Session = sessionMsg(s, true)
	}
	if c, ok := v.Selection(); ok {
		st.Selection = c.Object.InstanceID
	}
	if m, ok := v.Board().Current(); ok {
		fm := feedbackMsg(protocol.TypeMessage, m)
		st.Message = &fm
	}
	return st
}
