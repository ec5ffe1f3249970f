package notion

import (
	"encoding/json"
	"strconv"
	"strings"
)

// BodyOverwriteWarning is placed at the top of pages whose body is pushed
// from the tracker, so editors know local changes will not survive.
const BodyOverwriteWarning = "Do not edit the description of this task. " +
	"It is synchronized from the issue tracker and local changes will be overwritten."

// WarningCallout builds a callout block carrying the given text.
func WarningCallout(text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "callout",
		"callout": map[string]any{
			"icon": map[string]any{"type": "emoji", "emoji": "⚠️"},
			"rich_text": []map[string]any{
				{"type": "text", "text": map[string]any{"content": text}},
			},
			"color": "yellow_background",
		},
	}
}

// Paragraph builds a plain paragraph block from the given text.
func Paragraph(text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "paragraph",
		"paragraph": map[string]any{
			"rich_text": []map[string]any{
				{"type": "text", "text": map[string]any{"content": text}},
			},
		},
	}
}

// BodyParagraphs renders plain text as paragraph blocks, one per
// blank-line separated chunk. Empty chunks are dropped.
func BodyParagraphs(text string) []map[string]any {
	var blocks []map[string]any
	for _, chunk := range strings.Split(text, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		blocks = append(blocks, Paragraph(chunk))
	}
	return blocks
}

// blockContent is the type-specific payload shared by the block shapes the
// markdown renderer understands.
type blockContent struct {
	RichText []RichText `json:"rich_text"`
	Checked  bool       `json:"checked"`
	Language string     `json:"language"`
}

// Block is one page content block. Only the fields the renderer needs are
// decoded; unknown block types keep their plain text when they carry any.
type Block struct {
	ID          string
	Type        string
	HasChildren bool
	Content     blockContent
}

// UnmarshalJSON pulls the type-specific payload out of the envelope keyed
// by the block's own type.
func (b *Block) UnmarshalJSON(data []byte) error {
	var head struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		HasChildren bool   `json:"has_children"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	b.ID = head.ID
	b.Type = head.Type
	b.HasChildren = head.HasChildren

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	if payload, ok := envelope[head.Type]; ok {
		if err := json.Unmarshal(payload, &b.Content); err != nil {
			return err
		}
	}
	return nil
}

// PlainText renders the block's rich text fragments as one string.
func (b *Block) PlainText() string {
	return plainText(b.Content.RichText)
}

// BlocksToMarkdown renders page blocks as markdown text for pushing a page
// body to an issue tracker. Formatting inside rich text is flattened to
// plain text; images and embeds are dropped.
func BlocksToMarkdown(blocks []Block) string {
	var out []string
	numbered := 0
	for _, b := range blocks {
		text := b.PlainText()
		if b.Type != "numbered_list_item" {
			numbered = 0
		}
		switch b.Type {
		case "paragraph":
			if text != "" {
				out = append(out, text)
			}
		case "heading_1":
			out = append(out, "# "+text)
		case "heading_2":
			out = append(out, "## "+text)
		case "heading_3":
			out = append(out, "### "+text)
		case "bulleted_list_item":
			out = append(out, "- "+text)
		case "numbered_list_item":
			numbered++
			out = append(out, strconv.Itoa(numbered)+". "+text)
		case "to_do":
			box := "[ ]"
			if b.Content.Checked {
				box = "[x]"
			}
			out = append(out, "- "+box+" "+text)
		case "quote":
			out = append(out, "> "+text)
		case "code":
			out = append(out, "```"+b.Content.Language+"\n"+text+"\n```")
		case "divider":
			out = append(out, "---")
		default:
			if text != "" {
				out = append(out, text)
			}
		}
	}
	return strings.Join(out, "\n\n")
}
