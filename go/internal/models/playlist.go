package models

// Song is the catalog metadata a client stores in a playlist.
type Song struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Source Source `json:"source"`
	Cover  string `json:"cover,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Key returns the catalog key of the song.
func (s Song) Key() TrackKey {
	return TrackKey{Source: s.Source, ID: s.ID}
}

// Playlist is a named, ordered collection of songs. CreatedAt is Unix milliseconds.
type Playlist struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	Songs     []Song `json:"songs"`
}
