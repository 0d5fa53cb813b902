package chatclient

import (
	"fmt"
	"time"
)

// Message is a chat envelope as served by /history and pushed over /ws.
type Message struct {
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// outbound is what Send writes; the server stamps the time.
type outbound struct {
	Author  string `json:"author"`
	Message string `json:"message"`
}

// Format renders m as a transcript line, "[15:04:05] author: message\n",
// with the timestamp shown in loc (time.Local when nil).
func Format(m Message, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("[%s] %s: %s\n", m.Timestamp.In(loc).Format(time.TimeOnly), m.Author, m.Message)
}
