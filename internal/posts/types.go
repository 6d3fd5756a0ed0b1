// Package posts defines the post record, the request/response shapes of the
// posting API, and the event emitted when a post is created.
package posts

import "time"

// MaxContentLength is the longest accepted post body, in UTF-16 code units.
const MaxContentLength = 200

// PageSize is the maximum number of posts any read returns.
const PageSize = 100

// Post is an immutable stored post.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateRequest is the JSON body accepted by the create endpoint.
type CreateRequest struct {
	Content string `json:"content"`
}

// CreatedEvent is the Kafka payload published after a post is stored.
type CreatedEvent struct {
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	RequestID string    `json:"request_id,omitempty"`
}
