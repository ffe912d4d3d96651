package domain

// Comment is one entry of a post's comment list.
type Comment struct {
	ID         string `json:"id"`
	UserID     string `json:"userId,omitempty"`
	Name       string `json:"name"`
	Text       string `json:"text"`
	Liked      bool   `json:"liked"`
	LikeCount  int    `json:"likeCount"`
	CommentImg string `json:"commentImg,omitempty"`
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// LikeState is the like flag and count of a single post.
type LikeState struct {
	ArtistKey string `json:"artist_key"`
	PostIndex int    `json:"post_index"`
	Liked     bool   `json:"liked"`
	Likes     int    `json:"likes"`
	// LikedAt is milliseconds since the Unix epoch, zero when not liked.
	LikedAt int64 `json:"liked_at,omitempty"`
}

// LikedPost is an entry of the liked-posts list.
type LikedPost struct {
	ArtistKey string `json:"artist_key"`
	PostIndex int    `json:"post_index"`
	Timestamp int64  `json:"timestamp"`
}

// Favorite is a saved closet item.
type Favorite struct {
	TeamID int `json:"teamId"`
	ItemID int `json:"itemId"`
}

// PickedGroup is an artist group the user follows.
type PickedGroup struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
