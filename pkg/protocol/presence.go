package protocol

// Presence is a user's live, ephemeral state within one document session.
// ConnectionID is a back-reference used to resolve the transport during
// fan-out; it never implies ownership of the connection.
type Presence struct {
	UserID       string          `json:"userId"`
	Name         string          `json:"name"`
	Color        string          `json:"color"`
	Cursor       *CursorPosition `json:"cursor,omitempty"`
	LastSeen     int64           `json:"lastSeen"` // milliseconds since epoch
	ConnectionID string          `json:"connectionId"`
}

// palette holds the ten presence colors handed out to collaborators.
var palette = [...]string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

// ColorFor maps a user id to one of the ten palette colors. The id's
// characters fold into a 32-bit signed accumulator,
//
//	hash = charCode + ((hash << 5) - hash)
//
// and abs(hash) mod 10 picks the color. The mapping is pure and stable
// across calls and process restarts; editor clients derive the same color
// locally, so the exact arithmetic (including int32 wraparound) matters.
func ColorFor(userID string) string {
	var hash int32
	for _, c := range userID {
		hash = int32(c) + (hash<<5 - hash)
	}
	idx := int64(hash)
	if idx < 0 {
		idx = -idx
	}
	return palette[idx%int64(len(palette))]
}
