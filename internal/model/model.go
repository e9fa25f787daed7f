package model

import (
	"strings"
	"time"
)

// DrugMention is one drug reference found in a protocol document.
type DrugMention struct {
	SourceName        string `json:"drug_name_source"`
	DosageText        string `json:"dosage_source"`
	RouteText         string `json:"route_source"`
	EvidenceLevelText string `json:"ud_source,omitempty"`
	IndicationContext string `json:"context_indication"`
	INNGuess          string `json:"inn_name,omitempty"`
}

type NormalizationSource string

const (
	SourceTerminology NormalizationSource = "Terminology"
	SourceLLM         NormalizationSource = "LLM"
	SourceNone        NormalizationSource = "None"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceNone   Confidence = "none"
)

type NormalizationResult struct {
	INN        *string             `json:"inn_name"`
	Source     NormalizationSource `json:"source"`
	Confidence Confidence          `json:"confidence"`
}

// Resolved reports whether the result carries a usable INN.
func (r NormalizationResult) Resolved() bool {
	return r.INN != nil && !IsSentinelName(*r.INN)
}

func (r NormalizationResult) INNValue() string {
	if r.INN == nil {
		return ""
	}
	return strings.TrimSpace(*r.INN)
}

func Unresolved() NormalizationResult {
	return NormalizationResult{Source: SourceNone, Confidence: ConfidenceNone}
}

type Regulator string

const (
	RegulatorFDA                    Regulator = "FDA"
	RegulatorEMA                    Regulator = "EMA"
	RegulatorLocalFormulary         Regulator = "LocalFormulary"
	RegulatorEssentialMedicinesList Regulator = "EssentialMedicinesList"
)

// Regulators is the fixed key set of every regulatory report.
var Regulators = []Regulator{
	RegulatorFDA,
	RegulatorEMA,
	RegulatorLocalFormulary,
	RegulatorEssentialMedicinesList,
}

type Status string

const (
	StatusApproved Status = "Approved"
	StatusFound    Status = "Found"
	StatusNotFound Status = "Not Found"
	StatusUnknown  Status = "Unknown"
	StatusError    Status = "Error"
)

type RegulatoryStatus struct {
	Status         Status `json:"status"`
	Detail         string `json:"detail,omitempty"`
	StandardDosage string `json:"standard_dosage,omitempty"`
}

type DosageResult string

const (
	DosageWithinRange DosageResult = "within_range"
	DosageBelowRange  DosageResult = "below_range"
	DosageAboveRange  DosageResult = "above_range"
	DosageMismatch    DosageResult = "mismatch"
)

// DosageResults lists the classification tokens the LLM may answer with.
var DosageResults = []DosageResult{DosageWithinRange, DosageBelowRange, DosageAboveRange, DosageMismatch}

// DosageComparison keeps the four-way result on the wire. Evaluated is false
// when the comparison could not run, in which case Result is mismatch.
type DosageComparison struct {
	Result    DosageResult `json:"comparison_result,omitempty"`
	Evaluated bool         `json:"evaluated,omitempty"`
	Detail    string       `json:"detail,omitempty"`
}

type RegulatoryReport struct {
	Checks      map[Regulator]RegulatoryStatus `json:"regulatory_checks"`
	DosageCheck DosageComparison               `json:"dosage_check"`
}

// EmptyRegulatoryReport is the placeholder used when no checks were run.
func EmptyRegulatoryReport() RegulatoryReport {
	return RegulatoryReport{Checks: map[Regulator]RegulatoryStatus{}}
}

type LiteratureRecord struct {
	PMID             string   `json:"pmid"`
	Title            string   `json:"title"`
	Authors          string   `json:"authors"`
	Journal          string   `json:"journal"`
	PublicationDate  string   `json:"pub_date"`
	PublicationTypes []string `json:"publication_types"`
	AbstractPreview  string   `json:"abstract_preview,omitempty"`
	Link             string   `json:"link"`
}

type Grade string

const (
	GradeHigh     Grade = "High"
	GradeModerate Grade = "Moderate"
	GradeLow      Grade = "Low"
	GradeVeryLow  Grade = "Very Low"
	GradeUnknown  Grade = "Unknown"
	GradeError    Grade = "Error"
)

// ParseGrade maps a loosely formatted grade label onto a Grade.
func ParseGrade(s string) (Grade, bool) {
	switch strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")) {
	case "high":
		return GradeHigh, true
	case "moderate":
		return GradeModerate, true
	case "low":
		return GradeLow, true
	case "very low", "verylow":
		return GradeVeryLow, true
	case "unknown":
		return GradeUnknown, true
	}
	return "", false
}

type EvidenceAssessment struct {
	Grade         Grade  `json:"ud_ai_grade"`
	Justification string `json:"ud_ai_justification"`
	ClinicianNote string `json:"ai_summary_note"`
}

// Degradation records a stage that fell back to a placeholder.
type Degradation struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// DrugAnalysis is the per-drug result. The embedded report puts
// regulatory_checks and dosage_check at the top level of the JSON object.
type DrugAnalysis struct {
	Mention       DrugMention         `json:"source_data"`
	Normalization NormalizationResult `json:"normalization"`
	RegulatoryReport
	Literature   []LiteratureRecord `json:"pubmed_articles"`
	Evidence     EvidenceAssessment `json:"ai_analysis"`
	Degradations []Degradation      `json:"degradations,omitempty"`
}

// DrugDossier is everything gathered for one drug before synthesis.
type DrugDossier struct {
	Mention       DrugMention         `json:"source_data"`
	Normalization NormalizationResult `json:"normalization"`
	RegulatoryReport
	Literature []LiteratureRecord `json:"pubmed_articles"`
}

type RunStats struct {
	DrugsExtracted int           `json:"drugs_extracted"`
	DrugsAnalyzed  int           `json:"drugs_analyzed"`
	DrugsDropped   int           `json:"drugs_dropped"`
	Degradations   int           `json:"degradations"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	Duration       time.Duration `json:"duration_ns"`
}

type DocumentAnalysis struct {
	ID              string         `json:"analysis_id"`
	DocumentSummary string         `json:"document_summary"`
	Results         []DrugAnalysis `json:"analysis_results"`
	Message         string         `json:"message,omitempty"`
	Error           string         `json:"error,omitempty"`
	Degradations    []Degradation  `json:"degradations,omitempty"`
	Stats           RunStats       `json:"stats"`
}

var sentinelNames = map[string]struct{}{
	"unknown":       {},
	"n/a":           {},
	"na":            {},
	"none":          {},
	"null":          {},
	"-":             {},
	"не определен":  {},
	"не определено": {},
	"неизвестно":    {},
}

// IsSentinelName reports whether a drug name is blank or a placeholder
// such as "unknown".
func IsSentinelName(name string) bool {
	n := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if n == "" {
		return true
	}
	_, ok := sentinelNames[n]
	return ok
}

func StringPtr(s string) *string {
	return &s
}
