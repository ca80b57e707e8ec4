package domain

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentURL   AttachmentKind = "url"
)

type ClassificationTag string

const (
	TagNone     ClassificationTag = ""
	TagFileRAG  ClassificationTag = "file:rag"
	TagFileFull ClassificationTag = "file:full"
)

// Attachment is a local draft staged before a turn is sent. Data holds a
// self-contained data URL (or a plain URL for url kind) until the upload
// step replaces it with a server-issued content reference.
type Attachment struct {
	Name    string `json:"name"`
	MIME    string `json:"mime,omitempty"`
	Data    string `json:"data"`
	Preview string `json:"-"`
	Kind    AttachmentKind    `json:"-"`
	Tag     ClassificationTag `json:"-"`
}

// WireType is the upload type sent with the prediction payload: the
// finalized classification tag when present, otherwise the draft kind.
func (a Attachment) WireType() string {
	if a.Tag != TagNone {
		return string(a.Tag)
	}
	switch a.Kind {
	case AttachmentURL:
		return "url"
	case AttachmentAudio:
		return "audio"
	default:
		return "file"
	}
}
