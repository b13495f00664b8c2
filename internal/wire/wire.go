// Package wire defines the JSON shapes exchanged with proxied live-session
// clients, mirroring the upstream server-message structure.
package wire

import "github.com/soothe-app/soothe/domain/entities"

// Message is one inbound server message on the wire.
type Message struct {
	ServerContent *ServerContent `json:"serverContent,omitempty"`
}

type ServerContent struct {
	ModelTurn    *ModelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
}

type ModelTurn struct {
	Parts []Part `json:"parts"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
	FileData   *FileData   `json:"fileData,omitempty"`
}

// InlineData is a base64 blob with its mime type.
type InlineData struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type FileData struct {
	FileURI  string `json:"fileUri"`
	MIMEType string `json:"mimeType,omitempty"`
}

// Encode converts a decoded server message back into its wire shape.
func Encode(msg entities.ServerMessage) Message {
	content := &ServerContent{}
	var parts []Part
	for _, fragment := range msg.Fragments {
		switch f := fragment.(type) {
		case entities.TextFragment:
			parts = append(parts, Part{Text: f.Text})
		case entities.AudioFragment:
			parts = append(parts, Part{
				InlineData: &InlineData{Data: f.Data, MIMEType: f.MIMEType},
			})
		case entities.FileReference:
			parts = append(parts, Part{
				FileData: &FileData{FileURI: f.URI, MIMEType: f.MIMEType},
			})
		case entities.TurnComplete:
			content.TurnComplete = true
		}
	}
	if len(parts) > 0 {
		content.ModelTurn = &ModelTurn{Parts: parts}
	}
	return Message{ServerContent: content}
}

// Decode converts a wire message into the tagged fragment form.
// Unknown or empty parts are dropped rather than carried as nils.
func Decode(msg Message) entities.ServerMessage {
	var decoded entities.ServerMessage
	if msg.ServerContent == nil {
		return decoded
	}
	if turn := msg.ServerContent.ModelTurn; turn != nil {
		for _, part := range turn.Parts {
			switch {
			case part.Text != "":
				decoded.Fragments = append(decoded.Fragments, entities.TextFragment{Text: part.Text})
			case part.InlineData != nil:
				decoded.Fragments = append(decoded.Fragments, entities.AudioFragment{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				})
			case part.FileData != nil:
				decoded.Fragments = append(decoded.Fragments, entities.FileReference{
					URI:      part.FileData.FileURI,
					MIMEType: part.FileData.MIMEType,
				})
			}
		}
	}
	if msg.ServerContent.TurnComplete {
		decoded.Fragments = append(decoded.Fragments, entities.TurnComplete{})
	}
	return decoded
}
