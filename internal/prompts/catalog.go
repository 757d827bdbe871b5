// Package prompts holds the fixed system announcements of the reader and
// caches their rendered audio.
package prompts

import "sort"

const (
	Processing        = "processing"
	NoImage           = "no_image"
	EmptyPage         = "empty_page"
	NoSentences       = "no_sentences"
	Completed         = "completed"
	Exiting           = "exiting"
	ReturnToReading   = "return_to_reading"
	NoContentYet      = "no_content_yet"
	GeneratingSummary = "generating_summary"
	StoppingSummary   = "stopping_summary"
	SummaryFinished   = "summary_finished"
	SummaryFailed     = "summary_failed"
	BackPauseMenu     = "back_pause_menu"
	Paused            = "paused"
	Resuming          = "resuming"
	InvalidOption     = "invalid_option"
	VoiceIntro        = "voice_intro"
	VoiceRetry        = "voice_retry"
	VoiceUnknown      = "voice_unknown"
	BackVoice         = "back_voice"
	PauseBeep         = "pause_beep"
	ResumeBeep        = "resume_beep"
)

// Prompt is one announcement. Exactly one of Text, File or Tone is set.
type Prompt struct {
	Key  string `yaml:"key"`
	Text string `yaml:"text,omitempty"`
	// File is a WAV played as is.
	File string `yaml:"file,omitempty"`
	Tone *Tone  `yaml:"tone,omitempty"`
}

// Tone is a generated beep.
type Tone struct {
	Hz         float64 `yaml:"hz"`
	DurationMS int     `yaml:"duration_ms"`
}

// Catalog maps prompt keys to prompts.
type Catalog map[string]Prompt

// Defaults returns the built-in catalog.
func Defaults() Catalog {
	c := Catalog{}
	for key, text := range map[string]string{
		Processing:        "Processing the image. Please wait.",
		NoImage:           "No image captured. Exiting.",
		EmptyPage:         "The page appears empty or unreadable.",
		NoSentences:       "I could not extract readable sentences from this page.",
		Completed:         "Completed all sentences.",
		Exiting:           "Exiting reading module.",
		ReturnToReading:   "Returning to reading.",
		NoContentYet:      "No content has been read yet.",
		GeneratingSummary: "Generating summary.",
		StoppingSummary:   "Stopping summary.",
		SummaryFinished:   "Summary finished.",
		SummaryFailed:     "Sorry, I could not summarize the text.",
		BackPauseMenu:     "Back to pause menu.",
		Paused:            "Reading paused. Press r to resume, m for a summary, or q to quit.",
		Resuming:          "Resuming.",
		InvalidOption:     "Invalid option.",
		VoiceIntro:        "Voice control. Say summary, resume, or quit.",
		VoiceRetry:        "I did not catch that. Please try again.",
		VoiceUnknown:      "Unknown command. Please say summary, resume, or quit.",
		BackVoice:         "Back to voice control.",
	} {
		c[key] = Prompt{Key: key, Text: text}
	}
	c[PauseBeep] = Prompt{Key: PauseBeep, Tone: &Tone{Hz: 880, DurationMS: 150}}
	c[ResumeBeep] = Prompt{Key: ResumeBeep, Tone: &Tone{Hz: 660, DurationMS: 150}}
	return c
}

// Keys returns the catalog keys in sorted order.
func (c Catalog) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of c with every manifest entry applied.
func (c Catalog) With(m Manifest) Catalog {
	out := make(Catalog, len(c))
	for k, p := range c {
		out[k] = p
	}
	for _, p := range m.Prompts {
		out[p.Key] = p
	}
	return out
}
