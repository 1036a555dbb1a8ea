package factcheck

import "testing"

func TestAggregate_PassesAtEightyPercentWithNoCriticalMiss(t *testing.T) {
	reports := []SectionReport{
		{SectionIndex: 0, Claims: []Claim{
			{Claim: "a", Verified: true}, {Claim: "b", Verified: true},
			{Claim: "c", Verified: true}, {Claim: "d", Verified: true},
			{Claim: "e", Verified: false, SeverityIfWrong: SeverityLow},
		}},
	}
	report := Aggregate(reports)
	if !report.Passed {
		t.Errorf("expected 80%% accuracy with no critical issues and low severity miss to consider; got accuracy=%v passed=%v", report.OverallAccuracy, report.Passed)
	}
}

func TestAggregate_FailsOnCriticalOverLimit(t *testing.T) {
	reports := []SectionReport{
		{SectionIndex: 0, Claims: []Claim{
			{Claim: "a", Verified: false, SeverityIfWrong: SeverityCritical},
			{Claim: "b", Verified: false, SeverityIfWrong: SeverityCritical},
			{Claim: "c", Verified: false, SeverityIfWrong: SeverityCritical},
		}},
	}
	report := Aggregate(reports)
	if report.Passed {
		t.Errorf("expected failure with 3 critical unverified claims")
	}
	if report.CriticalIssues != 3 {
		t.Errorf("expected 3 critical issues counted, got %d", report.CriticalIssues)
	}
}

func TestAggregate_EmptyInputPasses(t *testing.T) {
	report := Aggregate(nil)
	if !report.Passed || report.OverallAccuracy != 1.0 {
		t.Errorf("expected an empty claim set to trivially pass, got %+v", report)
	}
}

func TestAggregate_LowAccuracyFails(t *testing.T) {
	reports := []SectionReport{
		{SectionIndex: 0, Claims: []Claim{
			{Claim: "a", Verified: true},
			{Claim: "b", Verified: false, SeverityIfWrong: SeverityMedium},
			{Claim: "c", Verified: false, SeverityIfWrong: SeverityMedium},
		}},
	}
	report := Aggregate(reports)
	if report.Passed {
		t.Errorf("expected 33%% accuracy to fail, got %+v", report)
	}
}
