// ABOUTME: Misskey note, user and drive file shapes as returned by the API
// ABOUTME: Also holds the text helpers used to decide whether a note addresses the bot

package misskey

import (
	"regexp"
	"strings"
)

// User is the embedded author of a note
type User struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Name     *string `json:"name"`
	Host     *string `json:"host"`
	IsBot    bool    `json:"isBot"`
}

// DisplayName returns the profile name, or the username when none is set
func (u User) DisplayName() string {
	if u.Name != nil && strings.TrimSpace(*u.Name) != "" {
		return *u.Name
	}
	return u.Username
}

// DriveFile is a file attached to a note
type DriveFile struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	URL          string  `json:"url"`
	ThumbnailURL *string `json:"thumbnailUrl"`
}

// Note is a Misskey post
type Note struct {
	ID             string      `json:"id"`
	CreatedAt      string      `json:"createdAt"`
	UserID         string      `json:"userId"`
	User           User        `json:"user"`
	Text           *string     `json:"text"`
	CW             *string     `json:"cw"`
	ReplyID        *string     `json:"replyId"`
	RenoteID       *string     `json:"renoteId"`
	Visibility     string      `json:"visibility"`
	VisibleUserIDs []string    `json:"visibleUserIds"`
	Files          []DriveFile `json:"files"`
}

// TextValue returns the note body, or "" when the note has none
func (n *Note) TextValue() string {
	if n == nil || n.Text == nil {
		return ""
	}
	return *n.Text
}

func (n *Note) IsReply() bool  { return n.ReplyID != nil && *n.ReplyID != "" }
func (n *Note) IsRenote() bool { return n.RenoteID != nil && *n.RenoteID != "" }
func (n *Note) HasCW() bool    { return n.CW != nil }

// QuoteID returns the id of the quoted note. A renote with its own text is a quote.
func (n *Note) QuoteID() string {
	if !n.IsRenote() || n.TextValue() == "" {
		return ""
	}
	return *n.RenoteID
}

var mentionPattern = regexp.MustCompile(`@[a-zA-Z0-9_]+(?:@[a-zA-Z0-9_.\-]+)?`)

// ExtractedText strips mentions of username from text and trims it.
// Mentions of other users are kept.
func ExtractedText(text, username string) string {
	if username == "" {
		return strings.TrimSpace(text)
	}
	out := mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.TrimPrefix(m, "@")
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
		if strings.EqualFold(name, username) {
			return ""
		}
		return m
	})
	return strings.TrimSpace(out)
}

// Includes reports whether text contains any of words, ignoring case
func Includes(text string, words ...string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
