package dashcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchLanguage_ExactTagWins(t *testing.T) {
	cands := []langCandidate{
		{Index: 0, Lang: "en-US"},
		{Index: 1, Lang: "en-GB"},
	}
	assert.Equal(t, 1, MatchLanguage(cands, "en-GB"))
}

func TestMatchLanguage_ExactTagIsCaseInsensitive(t *testing.T) {
	cands := []langCandidate{{Index: 0, Lang: "EN-us"}}
	assert.Equal(t, 0, MatchLanguage(cands, "en-US"))
}

func TestMatchLanguage_FallsBackToPrimaryPlusRegion(t *testing.T) {
	cands := []langCandidate{
		{Index: 0, Lang: "fr-CA"},
		{Index: 1, Lang: "fr-FR"},
	}
	// no exact match for the variant tag, but fr-FR shares primary+region
	// once the variant subtag is ignored.
	assert.Equal(t, 1, MatchLanguage(cands, "fr-FR-1694acad"))
}

func TestMatchLanguage_FallsBackToPrimarySubtag(t *testing.T) {
	cands := []langCandidate{
		{Index: 0, Lang: "es-MX"},
		{Index: 1, Lang: "es-AR"},
	}
	assert.Equal(t, 0, MatchLanguage(cands, "es-ES"), "neither region matches; first primary-subtag match wins")
}

func TestMatchLanguage_FallsBackToMainFlag(t *testing.T) {
	cands := []langCandidate{
		{Index: 0, Lang: "ja-JP"},
		{Index: 1, Lang: "ko-KR", Main: true},
	}
	assert.Equal(t, 1, MatchLanguage(cands, "de-DE"))
}

func TestMatchLanguage_NoMatchAnywhereReturnsNegativeOne(t *testing.T) {
	cands := []langCandidate{{Index: 0, Lang: "ja-JP"}}
	assert.Equal(t, -1, MatchLanguage(cands, "de-DE"))
}

func TestMatchLanguage_EmptyCandidatesReturnsNegativeOne(t *testing.T) {
	assert.Equal(t, -1, MatchLanguage(nil, "en-US"))
}

func TestMatchLanguage_PreferredOrderIsDeterministicOnTies(t *testing.T) {
	cands := []langCandidate{
		{Index: 0, Lang: "en-US"},
		{Index: 1, Lang: "en-US"},
	}
	assert.Equal(t, 0, MatchLanguage(cands, "en-US"), "first candidate wins ties, input order preserved")
}
