package model

import (
	"encoding/json"
	"strings"

	"PPFeed/tools/errs"
)

// ContentType 消息内容类型
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
	ContentFile  ContentType = "file"
)

// RecalledText 撤回后对外渲染的占位文本
const RecalledText = "This message was recalled"

type TextBody struct {
	Text string `bson:"text" json:"text"`
}

type ImageBody struct {
	URL    string `bson:"url" json:"url"`
	Width  int    `bson:"width,omitempty" json:"width,omitempty"`
	Height int    `bson:"height,omitempty" json:"height,omitempty"`
}

type VideoBody struct {
	URL       string  `bson:"url" json:"url"`
	Duration  float64 `bson:"duration,omitempty" json:"duration,omitempty"` // 秒
	Thumbnail string  `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`
}

type AudioBody struct {
	URL      string    `bson:"url" json:"url"`
	Duration float64   `bson:"duration,omitempty" json:"duration,omitempty"`
	Waveform []float64 `bson:"waveform,omitempty" json:"waveform,omitempty"`
}

type FileBody struct {
	URL      string `bson:"url" json:"url"`
	Name     string `bson:"name" json:"name"`
	Size     int64  `bson:"size" json:"size"`
	MimeType string `bson:"mime_type,omitempty" json:"type,omitempty"`
}

// Content 是一个 tagged union：Type 决定哪一个 body 有值，其余必须为空。
type Content struct {
	Type  ContentType `bson:"type" json:"type"`
	Text  *TextBody   `bson:"text,omitempty" json:"text,omitempty"`
	Image *ImageBody  `bson:"image,omitempty" json:"image,omitempty"`
	Video *VideoBody  `bson:"video,omitempty" json:"video,omitempty"`
	Audio *AudioBody  `bson:"audio,omitempty" json:"audio,omitempty"`
	File  *FileBody   `bson:"file,omitempty" json:"file,omitempty"`
}

func Text(s string) Content { return Content{Type: ContentText, Text: &TextBody{Text: s}} }

func Image(url string) Content { return Content{Type: ContentImage, Image: &ImageBody{URL: url}} }

// Validate enforces the one-variant rule and the minimum fields per variant.
func (c Content) Validate() error {
	set := 0
	for _, present := range []bool{c.Text != nil, c.Image != nil, c.Video != nil, c.Audio != nil, c.File != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return errs.ErrInvalidArgument.WrapMsg("content must carry exactly one variant", "variants", set)
	}
	switch c.Type {
	case ContentText:
		if c.Text == nil || strings.TrimSpace(c.Text.Text) == "" {
			return errs.ErrInvalidArgument.WrapMsg("text content is empty")
		}
	case ContentImage:
		if c.Image == nil || c.Image.URL == "" {
			return errs.ErrInvalidArgument.WrapMsg("image content needs a url")
		}
	case ContentVideo:
		if c.Video == nil || c.Video.URL == "" {
			return errs.ErrInvalidArgument.WrapMsg("video content needs a url")
		}
	case ContentAudio:
		if c.Audio == nil || c.Audio.URL == "" {
			return errs.ErrInvalidArgument.WrapMsg("audio content needs a url")
		}
	case ContentFile:
		if c.File == nil || c.File.URL == "" || c.File.Name == "" {
			return errs.ErrInvalidArgument.WrapMsg("file content needs url and name")
		}
	default:
		return errs.ErrInvalidArgument.WrapMsg("unknown content type", "type", c.Type)
	}
	return nil
}

// TextValue returns the text of a Text content, ok=false for other variants.
func (c Content) TextValue() (string, bool) {
	if c.Type != ContentText || c.Text == nil {
		return "", false
	}
	return c.Text.Text, true
}

// Preview is the short form used in conversation list updates.
func (c Content) Preview() string {
	switch c.Type {
	case ContentText:
		if c.Text == nil {
			return ""
		}
		r := []rune(c.Text.Text)
		if len(r) > 80 {
			return string(r[:80]) + "…"
		}
		return c.Text.Text
	case ContentImage:
		return "[image]"
	case ContentVideo:
		return "[video]"
	case ContentAudio:
		return "[audio]"
	case ContentFile:
		if c.File != nil {
			return "[file] " + c.File.Name
		}
		return "[file]"
	}
	return ""
}

// UnmarshalJSON accepts the canonical tagged form, plus the legacy flat form
// {"text":"hi"} / {"image":"https://..."} that older clients send.
func (c *Content) UnmarshalJSON(b []byte) error {
	type canonical Content
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return errs.ErrInvalidArgument.WrapMsg("content is not an object")
	}
	if _, tagged := probe["type"]; tagged {
		var out canonical
		if err := json.Unmarshal(b, &out); err != nil {
			return errs.ErrInvalidArgument.WrapMsg("malformed content", "err", err)
		}
		*c = Content(out)
		return nil
	}
	var legacy struct {
		Text  *string `json:"text"`
		Image *string `json:"image"`
	}
	if err := json.Unmarshal(b, &legacy); err != nil {
		return errs.ErrInvalidArgument.WrapMsg("malformed content", "err", err)
	}
	switch {
	case legacy.Text != nil && legacy.Image == nil:
		*c = Text(*legacy.Text)
	case legacy.Image != nil && legacy.Text == nil:
		*c = Image(*legacy.Image)
	default:
		return errs.ErrInvalidArgument.WrapMsg("content needs a type")
	}
	return nil
}
