package service

import (
	"reflect"
	"testing"
)

func TestDetectResumeIntent(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		want      bool
		terms     []string
	}{
		{
			name:      "go back to",
			utterance: "Let's go back to the exoskeleton project",
			want:      true,
			terms:     []string{"exoskeleton", "project"},
		},
		{
			name:      "let us variant",
			utterance: "let us get back to the gearbox sizing",
			want:      true,
			terms:     []string{"gearbox", "sizing"},
		},
		{
			name:      "continue with",
			utterance: "continue with the medication schedule",
			want:      true,
			terms:     []string{"medication", "schedule"},
		},
		{
			name:      "keep going on",
			utterance: "let's keep going on the sensor calibration",
			want:      true,
			terms:     []string{"sensor", "calibration"},
		},
		{
			name:      "resume the chat about",
			utterance: "Resume the chat about battery life",
			want:      true,
			terms:     []string{"battery", "life"},
		},
		{
			name:      "where we left off",
			utterance: "pick up where we left off about the knee brace",
			want:      true,
			terms:     []string{"knee", "brace"},
		},
		{
			name:      "that discussion about",
			utterance: "show me that discussion about trajectory planning",
			want:      true,
			terms:     []string{"trajectory", "planning"},
		},
		{
			name:      "trailing punctuation stripped",
			utterance: "let's go back to the exoskeleton project!",
			want:      true,
			terms:     []string{"exoskeleton", "project"},
		},
		{
			name:      "no resume intent",
			utterance: "what's the weather like today",
			want:      false,
		},
		{
			name:      "empty input",
			utterance: "   ",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectResumeIntent(tt.utterance)
			if got.WantsResume != tt.want {
				t.Fatalf("DetectResumeIntent(%q).WantsResume = %v, want %v", tt.utterance, got.WantsResume, tt.want)
			}
			if tt.want && !reflect.DeepEqual(got.SearchTerms, tt.terms) {
				t.Errorf("SearchTerms = %v, want %v", got.SearchTerms, tt.terms)
			}
		})
	}
}

func TestDetectResumeIntentFirstPatternWins(t *testing.T) {
	// Matches both the go-back and the discussion-about patterns; the
	// earlier pattern's capture must win.
	got := DetectResumeIntent("let's go back to the discussion about motors")
	if !got.WantsResume {
		t.Fatal("WantsResume = false")
	}
	if got.RawPhrase != "the discussion about motors" {
		t.Errorf("RawPhrase = %q", got.RawPhrase)
	}
	want := []string{"discussion", "motors"}
	if !reflect.DeepEqual(got.SearchTerms, want) {
		t.Errorf("SearchTerms = %v, want %v", got.SearchTerms, want)
	}
}
