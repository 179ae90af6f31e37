package domain

import "time"

type TrackSID string

type TrackSource string

const (
	TrackCamera      TrackSource = "camera"
	TrackMicrophone  TrackSource = "microphone"
	TrackScreenShare TrackSource = "screen_share"
)

// TrackPublication is a (participant, source) pair. Screen-share is a
// singleton per participant: at most one active screen-share publication.
type TrackPublication struct {
	SID         TrackSID
	Source      TrackSource
	Participant string // transport identity string
	Muted       bool
	PublishedAt time.Time
}

// PresenceEntry is the read-only projection row exposed to UI consumers.
type PresenceEntry struct {
	Identity       string        `json:"identity"`
	Wallet         WalletAddress `json:"wallet,omitempty"`
	DisplayName    string        `json:"display_name"`
	Role           Role          `json:"role"`
	HasVideo       bool          `json:"has_video"`
	HasAudio       bool          `json:"has_audio"`
	VideoMuted     bool          `json:"video_muted"`
	AudioMuted     bool          `json:"audio_muted"`
	HasScreenShare bool          `json:"has_screen_share"`
	HandRaised     bool          `json:"hand_raised"`
}
