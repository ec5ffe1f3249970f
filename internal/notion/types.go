package notion

import "time"

// Page is a database page as returned by the API, with properties kept in
// their raw decoded form. Property values are decoded lazily through the
// schema's codecs.
type Page struct {
	ID         string                   `json:"id"`
	URL        string                   `json:"url"`
	Archived   bool                     `json:"archived"`
	Parent     Parent                   `json:"parent"`
	Properties map[string]PropertyValue `json:"properties"`
}

// Parent identifies the container a page lives in.
type Parent struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id,omitempty"`
	PageID     string `json:"page_id,omitempty"`
}

// RichText is one fragment of a rich text or title property.
type RichText struct {
	Type      string `json:"type,omitempty"`
	PlainText string `json:"plain_text,omitempty"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`
}

// SelectOption is a select, multi-select, or status option.
type SelectOption struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// DateValue holds the start/end of a date property. Dates come back as
// ISO 8601 strings; an open end is null, never a sentinel.
type DateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// UserRef references a person in a people property.
type UserRef struct {
	Object string `json:"object,omitempty"`
	ID     string `json:"id"`
}

// PageRef references a page in a relation property.
type PageRef struct {
	ID string `json:"id"`
}

// PropertyValue is the raw value of one page property. Only the member
// matching Type is populated.
type PropertyValue struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type"`
	Title       []RichText     `json:"title,omitempty"`
	RichText    []RichText     `json:"rich_text,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
	Status      *SelectOption  `json:"status,omitempty"`
	Date        *DateValue     `json:"date,omitempty"`
	People      []UserRef      `json:"people,omitempty"`
	Relation    []PageRef      `json:"relation,omitempty"`
	URL         *string        `json:"url,omitempty"`
}

// Plain returns the text content for title and rich_text properties.
func (p PropertyValue) Plain() string {
	if len(p.Title) > 0 {
		return plainText(p.Title)
	}
	return plainText(p.RichText)
}

// OptionName returns the selected option for status and select properties,
// or "" when nothing is set.
func (p PropertyValue) OptionName() string {
	if p.Status != nil {
		return p.Status.Name
	}
	if p.Select != nil {
		return p.Select.Name
	}
	return ""
}

// Dates decodes a date property. ok is false when the property is empty or
// carries an unparseable value.
func (p PropertyValue) Dates() (start, end *time.Time, ok bool) {
	if p.Date == nil || p.Date.Start == "" {
		return nil, nil, false
	}
	s, err := parseDate(p.Date.Start)
	if err != nil {
		return nil, nil, false
	}
	start = &s
	if p.Date.End != nil && *p.Date.End != "" {
		e, err := parseDate(*p.Date.End)
		if err != nil {
			return nil, nil, false
		}
		end = &e
	}
	return start, end, true
}

// plainText concatenates rich text fragments the way the API renders them.
func plainText(fragments []RichText) string {
	s := ""
	for _, f := range fragments {
		if f.PlainText != "" {
			s += f.PlainText
		} else if f.Text != nil {
			s += f.Text.Content
		}
	}
	return s
}

// DatabaseObject is the schema-bearing database object.
type DatabaseObject struct {
	ID          string                    `json:"id"`
	Description []RichText                `json:"description"`
	Properties  map[string]PropertySchema `json:"properties"`
}

// PropertySchema is the declared type of one database property.
type PropertySchema struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	Select *struct {
		Options []SelectOption `json:"options"`
	} `json:"select,omitempty"`
	MultiSelect *struct {
		Options []SelectOption `json:"options"`
	} `json:"multi_select,omitempty"`
	Status *struct {
		Options []SelectOption `json:"options"`
	} `json:"status,omitempty"`
	Relation *struct {
		DatabaseID string `json:"database_id"`
	} `json:"relation,omitempty"`
}

// DescriptionText renders the database description as plain text.
func (d *DatabaseObject) DescriptionText() string {
	return plainText(d.Description)
}
