package models

// PresenceStatus defines the connection status of a session member.
type PresenceStatus string

const (
	// PresenceOnline means the member is known but not currently in the room.
	PresenceOnline PresenceStatus = "online"
	// PresenceInRoom means the member has an open room connection.
	PresenceInRoom PresenceStatus = "in_room"
)

// PresenceEntry describes one member of a session's room.
type PresenceEntry struct {
	UserID      string         `json:"userId"`
	DisplayName string         `json:"username"`
	AvatarURL   string         `json:"avatarUrl,omitempty"`
	Status      PresenceStatus `json:"status"`
	IsTyping    bool           `json:"isTyping,omitempty"`
	UpdatedMs   int64          `json:"updatedMs"`
}
