package bugzilla

// Bug is the REST representation of a bug, trimmed to the fields the sync
// passes read.
type Bug struct {
	ID             int          `json:"id"`
	Summary        string       `json:"summary"`
	Status         string       `json:"status"`
	Resolution     string       `json:"resolution"`
	Priority       string       `json:"priority"` // "P1".."P5" or "--"
	Type           string       `json:"type"`     // "defect", "enhancement", "task"
	Product        string       `json:"product"`
	Component      string       `json:"component"`
	Version        string       `json:"version"`
	Keywords       []string     `json:"keywords"`
	Whiteboard     string       `json:"whiteboard"`
	AssignedTo     string       `json:"assigned_to"`
	UserStory      string       `json:"cf_user_story"`
	SeeAlso        []string     `json:"see_also"`
	DupeOf         *int         `json:"dupe_of"`
	DependsOn      []int        `json:"depends_on"`
	Blocks         []int        `json:"blocks"`
	// Time fields stay strings on the wire: custom fields like
	// cf_last_resolved come back as "" when unset, which is not valid
	// RFC 3339. Mapping parses them leniently.
	CreationTime   string       `json:"creation_time"`
	LastChangeTime string       `json:"last_change_time"`
	LastResolved   string       `json:"cf_last_resolved"`
	Attachments    []Attachment `json:"attachments"`
}

// Attachment carries just enough to spot Phabricator review requests. Data
// is base64 on the wire and holds the review URL for those.
type Attachment struct {
	ContentType string `json:"content_type"`
	IsObsolete  int    `json:"is_obsolete"`
	Data        string `json:"data"`
}
