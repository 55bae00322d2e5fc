package domain

// Post is an upstream post, shown as a news item
type Post struct {
	UserID int    `json:"userId,omitempty"`
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Excerpt returns at most n runes of the body
func (p Post) Excerpt(n int) string {
	runes := []rune(p.Body)
	if len(runes) <= n {
		return p.Body
	}
	return string(runes[:n])
}
