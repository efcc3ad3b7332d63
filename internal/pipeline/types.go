package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Participant is one expected attendee of the meeting.
type Participant struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Request describes one file-processing job. ID and FilePath are transient
// per-request identifiers and are never part of a cache key; the file's
// identity for caching purposes is its content fingerprint.
type Request struct {
	ID       string `json:"id,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`

	TemplateID string `json:"template_id"`
	Provider   string `json:"llm_provider"`
	Language   string `json:"language"`

	Participants   []Participant     `json:"participants,omitempty"`
	MeetingTopic   string            `json:"meeting_topic,omitempty"`
	MeetingDate    string            `json:"meeting_date,omitempty"`
	MeetingTime    string            `json:"meeting_time,omitempty"`
	SpeakerMapping map[string]string `json:"speaker_mapping,omitempty"`
}

func (r *Request) Validate() error {
	if r.FilePath == "" {
		return errors.New("file_path is required")
	}
	if r.TemplateID == "" {
		return errors.New("template_id is required")
	}
	if r.Language == "" {
		return errors.New("language is required")
	}
	return nil
}

// cacheParams is the full-result cache key: the content fingerprint plus
// every parameter that affects the generated protocol. Transient fields
// (job ID, temp file path, file name) are deliberately absent.
func (r *Request) cacheParams(fileHash string) map[string]any {
	participants := make([]any, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, map[string]any{
			"name": p.Name,
			"role": p.Role,
		})
	}

	mapping := make(map[string]any, len(r.SpeakerMapping))
	for k, v := range r.SpeakerMapping {
		mapping[k] = v
	}

	return map[string]any{
		"file_hash":       fileHash,
		"template_id":     r.TemplateID,
		"llm_provider":    r.Provider,
		"language":        r.Language,
		"participants":    participants,
		"meeting_topic":   r.MeetingTopic,
		"meeting_date":    r.MeetingDate,
		"meeting_time":    r.MeetingTime,
		"speaker_mapping": mapping,
	}
}

// TranscriptionResult is the text a transcription provider produced for
// one audio file.
type TranscriptionResult struct {
	Transcription       string  `json:"transcription"`
	FormattedTranscript string  `json:"formatted_transcript,omitempty"`
	DurationSeconds     float64 `json:"duration_seconds,omitempty"`
	Language            string  `json:"language,omitempty"`
}

// DiarizationSegment is one contiguous span attributed to a speaker.
type DiarizationSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text,omitempty"`
}

// DiarizationResult is the who-spoke-when breakdown of the audio.
type DiarizationResult struct {
	Segments      []DiarizationSegment `json:"segments"`
	TotalSpeakers int                  `json:"total_speakers"`
}

// Result is a fully generated meeting protocol. It is what gets cached
// under the full_result namespace.
type Result struct {
	RequestID     string            `json:"request_id,omitempty"`
	FileHash      string            `json:"file_hash"`
	TemplateID    string            `json:"template_id"`
	Protocol      string            `json:"protocol"`
	Transcription string            `json:"transcription"`
	Speakers      map[string]string `json:"speakers,omitempty"`
	TotalSpeakers int               `json:"total_speakers"`
	GeneratedAt   time.Time         `json:"generated_at"`

	// Cached reports whether this result was served from the cache
	// instead of a pipeline run. Set per response, never persisted.
	Cached bool `json:"-"`
}

// Transcriber converts audio into text. Implementations call a paid
// external service; results are memoized by file content.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath, language string) (*TranscriptionResult, error)
}

// Diarizer splits audio into per-speaker segments.
type Diarizer interface {
	Diarize(ctx context.Context, filePath, language string) (*DiarizationResult, error)
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error { return e.err }
