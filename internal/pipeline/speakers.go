package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// resolveSpeakers maps raw diarization labels ("SPEAKER_00", ...) to human
// names using the user-confirmed mapping. Unmapped labels keep their raw
// label so nothing said in the meeting is silently dropped.
func resolveSpeakers(di *DiarizationResult, mapping map[string]string) map[string]string {
	resolved := make(map[string]string)
	if di == nil {
		return resolved
	}

	for _, seg := range di.Segments {
		if _, ok := resolved[seg.Speaker]; ok {
			continue
		}
		if name, ok := mapping[seg.Speaker]; ok && name != "" {
			resolved[seg.Speaker] = name
		} else {
			resolved[seg.Speaker] = seg.Speaker
		}
	}
	return resolved
}

// formatTranscript builds a speaker-attributed transcript from the
// diarization segments, falling back to the flat transcription when no
// segments are available.
func formatTranscript(tr *TranscriptionResult, di *DiarizationResult, speakers map[string]string) string {
	if di == nil || len(di.Segments) == 0 {
		if tr.FormattedTranscript != "" {
			return tr.FormattedTranscript
		}
		return tr.Transcription
	}

	var b strings.Builder
	for _, seg := range di.Segments {
		name := speakers[seg.Speaker]
		if name == "" {
			name = seg.Speaker
		}
		text := seg.Text
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", name, text)
	}

	if b.Len() == 0 {
		return tr.Transcription
	}
	return b.String()
}

// sortedMapping returns the mapping as key/value pairs in key order, for
// deterministic prompt construction.
func sortedMapping(m map[string]string) [][2]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, m[k]})
	}
	return out
}
