package catalog

import "time"

// MatchStatus tracks external-ID enrichment state for an entity.
type MatchStatus string

const (
	MatchUnattempted MatchStatus = "unattempted"
	MatchMatched     MatchStatus = "matched"
	MatchNotFound    MatchStatus = "not_found"
	MatchError       MatchStatus = "error"
)

// Re-eligibility windows for failed enrichment attempts.
const (
	NotFoundRetryAfter = 30 * 24 * time.Hour
	ErrorRetryAfter    = 7 * 24 * time.Hour
)

// Artist is a local catalog artist.
type Artist struct {
	ID            int64
	Name          string
	ThumbURL      string
	Genres        []string
	Summary       string
	ExternalID    string
	MatchStatus   MatchStatus
	LastAttempted time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Album is a local catalog album owned by exactly one artist.
type Album struct {
	ID            int64
	ArtistID      int64
	Title         string
	Year          int
	ThumbURL      string
	Genres        []string
	TrackCount    int
	DurationMS    int64
	ExternalID    string
	MatchStatus   MatchStatus
	LastAttempted time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Track is a local catalog track owned by exactly one album and artist.
type Track struct {
	ID            int64
	AlbumID       int64
	ArtistID      int64
	Title         string
	TrackNumber   int
	DurationMS    int64
	FilePath      string
	Bitrate       int
	Explicit      *bool
	ExternalID    string
	MatchStatus   MatchStatus
	LastAttempted time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WatchlistEntry is a watched external artist with per-entry filters.
type WatchlistEntry struct {
	ExternalArtistID string
	Name             string
	ThumbURL         string
	LastScan         time.Time

	IncludeAlbums  bool
	IncludeEPs     bool
	IncludeSingles bool

	IncludeLive         bool
	IncludeRemixes      bool
	IncludeAcoustic     bool
	IncludeCompilations bool
}

// Wishlist source tags.
const (
	SourcePlaylist  = "playlist"
	SourceAlbum     = "album"
	SourceWatchlist = "watchlist"
	SourceManual    = "manual"
	SourceWishlist  = "wishlist" // auto-retry resubmissions
)

// WishlistEntry is a persisted failed fulfillment request.
type WishlistEntry struct {
	ExternalTrackID string
	DescriptorJSON  string // full external track descriptor
	FailureReason   string
	SourceType      string
	SourceInfoJSON  string
	RetryCount      int
	DateAdded       time.Time
	LastAttempted   time.Time
}

// DiscoveryTrack is one rolling-pool candidate from a similar artist.
type DiscoveryTrack struct {
	ExternalTrackID  string
	ExternalArtistID string
	ExternalAlbumID  string
	Name             string
	ArtistName       string
	AlbumName        string
	CoverURL         string
	DurationMS       int64
	Popularity       int
	ReleaseDate      string
	IsNewRelease     bool
	ArtistGenres     []string
	TrackBlobJSON    string
	AddedAt          time.Time
}

// SimilarArtist links a watched artist to one similar artist.
// SimilarArtistID is a normalized-name key so occurrences aggregate
// across sources even before the provider ID is resolved; ExternalID is
// filled once the discovery populator resolves the name.
type SimilarArtist struct {
	SourceArtistID  string
	SimilarArtistID string
	Name            string
	ExternalID      string
	Rank            int
	OccurrenceCount int
	LastRefreshed   time.Time
}
