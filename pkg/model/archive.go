package model

// Track archive processing statuses as exposed by the race-control
// application. Collaborators see these values instead of errors.
const (
	ArchiveStatusNoArchive = "no archive"
	ArchiveStatusUnpacked  = "unpacked"
	ArchiveStatusParsed    = "parsed"
	ArchiveStatusError     = "error"
)

// ArchiveProgress describes how far the archive of a race has been processed.
type ArchiveProgress struct {
	ParsedTracks     []string `json:"parsed_tracks"`
	UnparsedTracks   []string `json:"unparsed_tracks"`
	ParaglidersFound []string `json:"paragliders_found"`
}

// TrackArchive is the collaborator's view on a race's track archive.
type TrackArchive struct {
	Status   string          `json:"status"`
	Progress ArchiveProgress `json:"progress"`
}

// Paraglider is a pilot registered on a race.
type Paraglider struct {
	PersonID      string `json:"person_id"`
	ContestNumber string `json:"contest_number"`
	Glider        string `json:"glider,omitempty"`
	Name          string `json:"name,omitempty"`
}

// ParagliderTrackfile links an unpacked track file to a registered pilot.
type ParagliderTrackfile struct {
	PersonID      string `json:"person_id"`
	Trackfile     string `json:"trackfile"`
	ContestNumber string `json:"contest_number"`
}

// ArchiveInfo is the result of unpacking one track archive.
type ArchiveInfo struct {
	Tracks          []ParagliderTrackfile `json:"tracks"`
	ExtraTracks     []string              `json:"extra_tracks"`
	LeftParagliders []string              `json:"left_paragliders"`
}
