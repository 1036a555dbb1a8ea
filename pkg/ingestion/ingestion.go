// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingestion runs source documents through five checkpointed
// phases before the orchestrator's Research Layer may read them
// (spec.md §4.11): text extraction, image extraction, vision analysis,
// embedding, and citation extraction.
package ingestion

import "context"

// Phase identifies one ingestion step; also used as the checkpoint.Service
// step name.
type Phase string

const (
	PhaseTextExtraction     Phase = "text_extraction"
	PhaseImageExtraction    Phase = "image_extraction"
	PhaseVisionAnalysis     Phase = "vision_analysis"
	PhaseEmbedding          Phase = "embedding"
	PhaseCitationExtraction Phase = "citation_extraction"
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	PhaseTextExtraction,
	PhaseImageExtraction,
	PhaseVisionAnalysis,
	PhaseEmbedding,
	PhaseCitationExtraction,
}

// Chunk is one page-scoped slice of extracted text, with its embedding
// filled in by PhaseEmbedding.
type Chunk struct {
	ID        string
	Page      int
	Content   string
	Embedding []float32
}

// Image is one extracted image, with its vision analysis filled in by
// PhaseVisionAnalysis and its embedding filled in by PhaseEmbedding.
type Image struct {
	ID        string
	Page      int
	Data      []byte
	MediaType string
	Analysis  string
	Embedding []float32
}

// Citation is one reference extracted from document text.
type Citation struct {
	Text   string
	Page   int
	Source string
}

// ProcessingStatus mirrors the documents table's processing_status
// column (spec.md §6).
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusComplete   ProcessingStatus = "complete"
	StatusFailed     ProcessingStatus = "failed"
)

// Document is one source document moving through the pipeline.
type Document struct {
	ID            string
	Metadata      map[string]string
	ExtractedText string
	Embedding     []float32
	Status        ProcessingStatus
	Chunks        []Chunk
	Images        []Image
	Citations     []Citation
}

// DocumentProcessor is the external collaborator (spec.md §1) that
// knows how to pull raw bytes and structure out of a source document.
// Phase 1 and phase 5 are expressed entirely in terms of this
// interface so the pipeline has no format-specific parsing code of its
// own; concrete implementations (PDF, DOCX, HTML) live outside this
// package.
type DocumentProcessor interface {
	// ExtractText returns the document's full text plus page-chunked
	// slices.
	ExtractText(ctx context.Context, raw []byte) (fullText string, chunks []Chunk, err error)

	// ExtractImages returns every embedded image with its page number
	// and media type.
	ExtractImages(ctx context.Context, raw []byte) ([]Image, error)

	// ExtractCitations scans text for bibliographic references.
	ExtractCitations(ctx context.Context, text string) ([]Citation, error)
}
