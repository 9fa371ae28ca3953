package broadcast

// MessageType names a push message.
type MessageType string

const (
	TypeStatusUpdate    MessageType = "status_update"
	TypeSystemStats     MessageType = "system_stats"
	TypeSettingsUpdated MessageType = "settings_updated"
	TypeServiceAdded    MessageType = "service_added"
	TypeServiceDeleted  MessageType = "service_deleted"
)

// Message is one frame pushed to observers. service_deleted carries the name
// in ServiceName; every other type uses Data.
type Message struct {
	Type        MessageType `json:"type"`
	Data        any         `json:"data,omitempty"`
	ServiceName string      `json:"service_name,omitempty"`
}

func StatusUpdate(statuses any) Message { return Message{Type: TypeStatusUpdate, Data: statuses} }

func SystemStats(stats any) Message { return Message{Type: TypeSystemStats, Data: stats} }

func SettingsUpdated(settings any) Message {
	return Message{Type: TypeSettingsUpdated, Data: settings}
}

func ServiceAdded(spec any) Message { return Message{Type: TypeServiceAdded, Data: spec} }

func ServiceDeleted(name string) Message {
	return Message{Type: TypeServiceDeleted, ServiceName: name}
}
