package domain

import "time"

// DayTimeLayout is the display layout of Notification.DayTime.
const DayTimeLayout = "2006. 01. 02. 15:04"

// NotificationPayload carries optional navigation data.
type NotificationPayload struct {
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Notification is an entry of the notifications center.
type Notification struct {
	ID        string               `json:"_id"`
	Type      string               `json:"type"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	DayTime   string               `json:"dayTime"`
	Batch     int                  `json:"batch"`
	IsRead    bool                 `json:"isRead"`
	CreatedAt time.Time            `json:"createdAt"`
	Payload   *NotificationPayload `json:"payload,omitempty"`
}
