package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// VideoStatus is the ingestion state of a video, stored capitalized so it can
// be shown to users as is. Remote index task states (validating, pending,
// queued, indexing) are stored through StatusFromRemote.
type VideoStatus string

const (
	VideoStatusNew        VideoStatus = ""
	VideoStatusSending    VideoStatus = "Sending"
	VideoStatusValidating VideoStatus = "Validating"
	VideoStatusPending    VideoStatus = "Pending"
	VideoStatusQueued     VideoStatus = "Queued"
	VideoStatusIndexing   VideoStatus = "Indexing"
	VideoStatusReady      VideoStatus = "Ready"
	VideoStatusFailed     VideoStatus = "Failed"
	VideoStatusError      VideoStatus = "Error"
)

// Remote index task states that end polling.
const (
	RemoteStatusReady  = "ready"
	RemoteStatusFailed = "failed"
)

// StatusFromRemote converts a raw index task status into its stored form.
func StatusFromRemote(remote string) VideoStatus {
	// Casers carry state and are not safe for concurrent use.
	return VideoStatus(cases.Title(language.Und).String(strings.TrimSpace(remote)))
}

// IsRemoteTerminal reports whether a raw index task status ends polling.
func IsRemoteTerminal(remote string) bool {
	switch strings.ToLower(remote) {
	case RemoteStatusReady, RemoteStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further polling may happen for the status.
func (s VideoStatus) IsTerminal() bool {
	switch s {
	case VideoStatusReady, VideoStatusFailed, VideoStatusError:
		return true
	}
	return false
}

// Matches reports whether s already reflects the raw remote status.
func (s VideoStatus) Matches(remote string) bool {
	return strings.EqualFold(string(s), remote)
}

// stage orders statuses along the pipeline. Statuses the index may add in
// the future rank just after Sending.
func (s VideoStatus) stage() int {
	switch s {
	case VideoStatusNew:
		return 0
	case VideoStatusSending:
		return 1
	case VideoStatusValidating:
		return 3
	case VideoStatusPending:
		return 4
	case VideoStatusQueued:
		return 5
	case VideoStatusIndexing:
		return 6
	case VideoStatusReady, VideoStatusFailed, VideoStatusError:
		return 10
	default:
		return 2
	}
}

// CanAdvance reports whether a record in status from may move to status to.
// Terminal statuses never change and a status never moves to an earlier stage.
func CanAdvance(from, to VideoStatus) bool {
	if from == to || from.IsTerminal() {
		return false
	}
	return to.stage() >= from.stage()
}

// ArtifactKind names a JSON artifact the index derives from a ready video.
type ArtifactKind string

const (
	ArtifactTranscription ArtifactKind = "transcription"
	ArtifactTextInVideo   ArtifactKind = "text_in_video"
	ArtifactLogo          ArtifactKind = "logo"
)

// ArtifactKinds lists JSON artifacts in fetch order.
var ArtifactKinds = []ArtifactKind{ArtifactTranscription, ArtifactTextInVideo, ArtifactLogo}

// ParseArtifactKind validates a kind taken from user input.
func ParseArtifactKind(s string) (ArtifactKind, bool) {
	for _, k := range ArtifactKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Video is one catalog entry. Ingestion fields are written only by the
// ingest coordinator, every write bumps Version.
type Video struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Title      string    `gorm:"type:text" json:"title"`
	UploadedAt time.Time `json:"uploaded_at"`

	AssemblyID   string `gorm:"type:text;index:idx_videos_assembly" json:"assembly_id,omitempty"`
	IndexTaskID  string `gorm:"type:text" json:"index_task_id,omitempty"`
	IndexVideoID string `gorm:"type:text;index:idx_videos_index_video" json:"index_video_id,omitempty"`

	Status          VideoStatus `gorm:"type:text;index:idx_videos_status" json:"status"`
	StatusUpdatedAt time.Time   `json:"status_updated_at"`

	// PolledAt is the last heartbeat of the batch polling this record, in
	// whichever process runs it.
	PolledAt *time.Time `json:"-"`

	OriginalKey   string `gorm:"type:text;index:idx_videos_original" json:"original_key,omitempty"`
	ThumbnailKey  string `gorm:"type:text" json:"thumbnail_key,omitempty"`
	TranscriptKey string `gorm:"type:text" json:"transcript_key,omitempty"`
	TextKey       string `gorm:"type:text" json:"text_key,omitempty"`
	LogoKey       string `gorm:"type:text" json:"logo_key,omitempty"`

	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Video) TableName() string {
	return "videos"
}

// ArtifactKey returns the object key stored for kind.
func (v *Video) ArtifactKey(kind ArtifactKind) string {
	switch kind {
	case ArtifactTranscription:
		return v.TranscriptKey
	case ArtifactTextInVideo:
		return v.TextKey
	case ArtifactLogo:
		return v.LogoKey
	}
	return ""
}

// SetArtifactKey records the object key for kind.
func (v *Video) SetArtifactKey(kind ArtifactKind, key string) {
	switch kind {
	case ArtifactTranscription:
		v.TranscriptKey = key
	case ArtifactTextInVideo:
		v.TextKey = key
	case ArtifactLogo:
		v.LogoKey = key
	}
}

// ObjectKeys lists every non-empty object key owned by the record.
func (v *Video) ObjectKeys() []string {
	var keys []string
	for _, k := range []string{v.OriginalKey, v.ThumbnailKey, v.TranscriptKey, v.TextKey, v.LogoKey} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ClearIndexState drops everything the index produced, returning the record
// to a submittable state.
func (v *Video) ClearIndexState() {
	v.Status = VideoStatusNew
	v.IndexTaskID = ""
	v.IndexVideoID = ""
	v.ThumbnailKey = ""
	v.TranscriptKey = ""
	v.TextKey = ""
	v.LogoKey = ""
}
