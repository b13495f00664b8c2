package entities

// Fragment is one piece of a model response, decoded once at the transport
// boundary. Exactly one concrete type applies per fragment; a single server
// message may carry several fragments in order.
type Fragment interface {
	fragment()
}

// TextFragment is a partial piece of the model's textual reply.
type TextFragment struct {
	Text string `json:"text"`
}

// AudioFragment is an inline binary audio payload. Data stays base64 encoded
// until playback so fragments can be forwarded without re-encoding.
type AudioFragment struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

// FileReference points at model output delivered by URI instead of inline.
type FileReference struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type"`
}

// TurnComplete marks the end of the model's current conversational turn.
type TurnComplete struct{}

func (TextFragment) fragment()  {}
func (AudioFragment) fragment() {}
func (FileReference) fragment() {}
func (TurnComplete) fragment()  {}

// ServerMessage is one inbound message from the live service: the ordered
// fragments decoded from a single wire message. Ordering across messages of
// one session is FIFO and must be preserved.
type ServerMessage struct {
	Fragments []Fragment
}

// HasTurnComplete reports whether this message carries the turn completion flag.
func (m ServerMessage) HasTurnComplete() bool {
	for _, f := range m.Fragments {
		if _, ok := f.(TurnComplete); ok {
			return true
		}
	}
	return false
}
