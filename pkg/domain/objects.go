package domain

// Status is a connection's current activity snapshot.
type Status struct {
	Action     Action
	Text       string
	BeatmapMD5 string
	Mods       Mods
	Mode       GameMode
	BeatmapID  int32
}

// Stats is a connection's score/rank snapshot for one game mode.
type Stats struct {
	RankedScore int64
	TotalScore  int64
	Accuracy    float32
	Playcount   int32
	Rank        int32
	Performance int16
}

// Presence is the publicly broadcast identity snapshot.
type Presence struct {
	UserID      int32
	Name        string
	UTCOffset   int8
	CountryCode uint8
	Permissions Permissions
	Mode        GameMode
	Longitude   float32
	Latitude    float32
	Rank        int32
}

// UserStats pairs a user id with its status and stats snapshots; it is the
// payload of the combined stats broadcast packet.
type UserStats struct {
	UserID int32
	Status Status
	Stats  Stats
}

// Message is one chat line addressed to a channel or a user.
type Message struct {
	Sender   string
	Content  string
	Target   string
	SenderID int32
}

// ChannelInfo is the wire-facing channel summary (display name, not the
// internal name of match/spectator channels).
type ChannelInfo struct {
	Name      string
	Topic     string
	UserCount uint16
}

// MatchJoin is a request to join an existing match.
type MatchJoin struct {
	MatchID  int32
	Password string
}

// BeatmapInfoRequest asks the server to resolve map filenames/ids into
// BeatmapInfo records.
type BeatmapInfoRequest struct {
	Filenames []string
	IDs       []int32
}

// BeatmapInfo answers a beatmap-info request for one map.
type BeatmapInfo struct {
	ID           int16
	BeatmapID    int32
	BeatmapSetID int32
	ThreadID     int32
	Ranked       int8
	OsuRank      int8
	TaikoRank    int8
	CatchRank    int8
	ManiaRank    int8
	MD5          string
}
