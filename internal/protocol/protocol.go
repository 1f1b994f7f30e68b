// Package protocol defines the JSON messages exchanged with HUD clients.
package protocol

import "encoding/json"

const Version = "1.0"

// Client -> server.
const (
	TypeHello          = "HELLO"
	TypePurchase       = "PURCHASE"
	TypeReposition     = "REPOSITION"
	TypeRotate         = "ROTATE"
	TypeScale          = "SCALE"
	TypeConfirm        = "CONFIRM"
	TypeCancel         = "CANCEL"
	TypeSelect         = "SELECT"
	TypeClearSelection = "CLEAR_SELECTION"
	TypeDelete         = "DELETE"
	TypeCredit         = "CREDIT"
	TypeDebit          = "DEBIT"
	TypeSave           = "SAVE"
	TypeDismiss        = "DISMISS"
)

// Server -> client.
const (
	TypeWelcome      = "WELCOME"
	TypeActionResult = "ACTION_RESULT"
	TypeBalance      = "BALANCE"
	TypeMessage      = "MESSAGE"
	TypeMessageClear = "MESSAGE_CLEAR"
	TypeSession      = "SESSION"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
