package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ClientID        string         `json:"client_id"`
	State           StateMsg       `json:"state"`
	Catalog         CatalogSummary `json:"catalog"`
}

type CatalogSummary struct {
	Digest  string         `json:"digest"`
	Entries []CatalogEntry `json:"entries"`
}

type CatalogEntry struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Cost        int64   `json:"cost"`
	RefundRatio string  `json:"refund_ratio"`
	Width       float64 `json:"width"`
	Depth       float64 `json:"depth"`
}

// CommandMsg carries every client command. Which fields matter depends on Type.
type CommandMsg struct {
	Type            string     `json:"type" validate:"required"`
	ProtocolVersion string     `json:"protocol_version"`
	ID              string     `json:"id" validate:"required,max=64"`
	CatalogID       string     `json:"catalog_id,omitempty"`
	Pos             [3]float64 `json:"pos" validate:"dive,gte=-1000000,lte=1000000"`
	RotationZ       float64    `json:"rotation_z,omitempty"`
	Scale           [2]float64 `json:"scale"`
	InstanceID      string     `json:"instance_id,omitempty"`
	Amount          int64      `json:"amount,omitempty"`
}

// ACTION_RESULT (server -> client), one per command.
type ActionResultMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AckFor          string      `json:"ack_for"`
	Accepted        bool        `json:"accepted"`
	Code            string      `json:"code,omitempty"`
	Message         string      `json:"message,omitempty"`
	Balance         int64       `json:"balance"`
	Object          *ObjectMsg  `json:"object,omitempty"`
	Session         *SessionMsg `json:"session,omitempty"`
	Refund          int64       `json:"refund,omitempty"`
}

type BalanceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Kind            string `json:"kind"`
	Delta           int64  `json:"delta"`
	Balance         int64  `json:"balance"`
}

type FeedbackMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Severity        string `json:"severity,omitempty"`
	Text            string `json:"text,omitempty"`
	DurationMS      int64  `json:"duration_ms,omitempty"`
}

// SessionMsg describes the active placement session. Active is false once it ends.
type SessionMsg struct {
	Type            string     `json:"type,omitempty"`
	ProtocolVersion string     `json:"protocol_version,omitempty"`
	Active          bool       `json:"active"`
	CatalogID       string     `json:"catalog_id,omitempty"`
	Pos             [3]float64 `json:"pos"`
	RotationZ       float64    `json:"rotation_z"`
	Scale           [2]float64 `json:"scale"`
	State           string     `json:"state,omitempty"`
}

type ObjectMsg struct {
	InstanceID   string     `json:"instance_id"`
	CatalogID    string     `json:"catalog_id"`
	Pos          [3]float64 `json:"pos"`
	RotationZ    float64    `json:"rotation_z"`
	Scale        [2]float64 `json:"scale"`
	OriginalCost int64      `json:"original_cost"`
	State        string     `json:"state"`
}

// StateMsg is the full village snapshot served by /v1/state and WELCOME.
type StateMsg struct {
	Balance   int64        `json:"balance"`
	Objects   []ObjectMsg  `json:"objects"`
	Session   *SessionMsg  `json:"session,omitempty"`
	Selection string       `json:"selection,omitempty"`
	Message   *FeedbackMsg `json:"message,omitempty"`
}
