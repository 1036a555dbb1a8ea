package chapter

import (
	"encoding/json"
	"testing"
)

func TestChapterClone_IsDeep(t *testing.T) {
	original := &Chapter{
		ID:    "ch-1",
		Title: "Original",
		Sections: []Section{
			{Index: 0, Title: "Intro", SourceRefs: []SourceRef{{StableID: "s1"}}},
		},
		KeyPoints:     []string{"a"},
		StagePayloads: map[Stage]json.RawMessage{StageContext: json.RawMessage(`{"k":1}`)},
		FactCheck:     &FactCheckVerdict{OverallAccuracy: 0.9},
	}

	clone := original.Clone()
	clone.Title = "Mutated"
	clone.Sections[0].Title = "Mutated Section"
	clone.Sections[0].SourceRefs[0].StableID = "mutated"
	clone.KeyPoints[0] = "mutated"
	clone.FactCheck.OverallAccuracy = 0.1

	if original.Title != "Original" {
		t.Errorf("mutating clone.Title affected original: %q", original.Title)
	}
	if original.Sections[0].Title != "Intro" {
		t.Errorf("mutating clone section affected original: %q", original.Sections[0].Title)
	}
	if original.Sections[0].SourceRefs[0].StableID != "s1" {
		t.Errorf("mutating clone source ref affected original")
	}
	if original.KeyPoints[0] != "a" {
		t.Errorf("mutating clone key points affected original")
	}
	if original.FactCheck.OverallAccuracy != 0.9 {
		t.Errorf("mutating clone fact check affected original")
	}
}

func TestSourceRefEqual(t *testing.T) {
	a := SourceRef{StableID: "doi:10.1/x", Title: "A Study of Things"}
	b := SourceRef{StableID: "doi:10.1/x", Title: "Different title entirely"}
	if !a.Equal(b) {
		t.Errorf("expected stable-id match to be equal")
	}

	c := SourceRef{StableID: "other-id", Title: "A Study of Things!"}
	if !a.Equal(c) {
		t.Errorf("expected normalized-title match to be equal")
	}

	d := SourceRef{StableID: "yet-another", Title: "Something unrelated"}
	if a.Equal(d) {
		t.Errorf("expected unrelated source refs to not be equal")
	}
}

func TestStartGenerationRequest_Validate(t *testing.T) {
	valid := &StartGenerationRequest{OwnerID: "u1", Title: "A Good Title", Topic: "climate policy"}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid request to pass, got %v", err)
	}

	invalid := &StartGenerationRequest{Title: "ab"}
	if err := invalid.Validate(); err == nil {
		t.Errorf("expected missing owner_id/topic and too-short title to fail validation")
	}
}

func TestRegenerateSectionRequest_Validate(t *testing.T) {
	valid := &RegenerateSectionRequest{ChapterID: "ch-1", SectionIndex: 0}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid request to pass, got %v", err)
	}

	invalid := &RegenerateSectionRequest{SectionIndex: -1}
	if err := invalid.Validate(); err == nil {
		t.Errorf("expected missing chapter_id and negative index to fail validation")
	}
}
