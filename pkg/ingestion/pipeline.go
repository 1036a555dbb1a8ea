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

package ingestion

import (
	"context"
	"fmt"

	"github.com/neurocore/chapterforge/pkg/checkpoint"
	"github.com/neurocore/chapterforge/pkg/provider"
	"github.com/neurocore/chapterforge/pkg/vectorindex"
)

// VisionPrompt is sent to the Router's vision provider for every
// extracted image.
const VisionPrompt = "Describe this image's content and its relevance to the surrounding document text, in two to three sentences."

// Store persists a document's state between phases. The orchestrator's
// Research Layer reads only documents whose Status is StatusComplete.
type Store interface {
	Save(ctx context.Context, doc *Document) error
}

// Pipeline runs a Document through the five phases named in spec.md
// §4.11, checkpointing after each so a crash mid-document resumes at
// the next incomplete phase instead of restarting from scratch.
type Pipeline struct {
	processor   DocumentProcessor
	router      *provider.Router
	checkpoint  checkpoint.Service
	store       Store
	vectorIndex vectorindex.Provider
	collection  string
}

// NewPipeline creates a Pipeline. index and collection may be left
// zero-valued; computeEmbeddings then fills Document.Embedding without
// indexing it, which is only useful in tests.
func NewPipeline(processor DocumentProcessor, router *provider.Router, checkpointSvc checkpoint.Service, store Store, index vectorindex.Provider, collection string) *Pipeline {
	return &Pipeline{processor: processor, router: router, checkpoint: checkpointSvc, store: store, vectorIndex: index, collection: collection}
}

// Run drives doc through every phase, skipping phases already recorded
// complete in the checkpoint service for doc.ID.
func (p *Pipeline) Run(ctx context.Context, doc *Document, raw []byte) error {
	doc.Status = StatusProcessing

	steps := []struct {
		phase Phase
		run   func(ctx context.Context) error
	}{
		{PhaseTextExtraction, func(ctx context.Context) error { return p.extractText(ctx, doc, raw) }},
		{PhaseImageExtraction, func(ctx context.Context) error { return p.extractImages(ctx, doc, raw) }},
		{PhaseVisionAnalysis, func(ctx context.Context) error { return p.analyzeImages(ctx, doc) }},
		{PhaseEmbedding, func(ctx context.Context) error { return p.computeEmbeddings(ctx, doc) }},
		{PhaseCitationExtraction, func(ctx context.Context) error { return p.extractCitations(ctx, doc) }},
	}

	for _, step := range steps {
		done, err := p.checkpoint.IsStepComplete(ctx, doc.ID, string(step.phase))
		if err != nil {
			return fmt.Errorf("ingestion: check checkpoint for %s: %w", step.phase, err)
		}
		if done {
			continue
		}
		if err := step.run(ctx); err != nil {
			doc.Status = StatusFailed
			if p.store != nil {
				_ = p.store.Save(ctx, doc)
			}
			return fmt.Errorf("ingestion: phase %s: %w", step.phase, err)
		}
		if err := p.checkpoint.MarkStepComplete(ctx, doc.ID, string(step.phase), nil); err != nil {
			return fmt.Errorf("ingestion: mark checkpoint for %s: %w", step.phase, err)
		}
		if p.store != nil {
			if err := p.store.Save(ctx, doc); err != nil {
				return fmt.Errorf("ingestion: persist after %s: %w", step.phase, err)
			}
		}
	}

	doc.Status = StatusComplete
	if p.store != nil {
		return p.store.Save(ctx, doc)
	}
	return nil
}

func (p *Pipeline) extractText(ctx context.Context, doc *Document, raw []byte) error {
	text, chunks, err := p.processor.ExtractText(ctx, raw)
	if err != nil {
		return err
	}
	doc.ExtractedText = text
	doc.Chunks = chunks
	return nil
}

func (p *Pipeline) extractImages(ctx context.Context, doc *Document, raw []byte) error {
	images, err := p.processor.ExtractImages(ctx, raw)
	if err != nil {
		return err
	}
	doc.Images = images
	return nil
}

func (p *Pipeline) analyzeImages(ctx context.Context, doc *Document) error {
	for i := range doc.Images {
		img := &doc.Images[i]
		result, err := p.router.AnalyzeImage(ctx, doc.ID, provider.ImageInput{Data: img.Data, MediaType: img.MediaType}, VisionPrompt)
		if err != nil {
			return fmt.Errorf("analyze image %s: %w", img.ID, err)
		}
		img.Analysis = result.Text
	}
	return nil
}

func (p *Pipeline) computeEmbeddings(ctx context.Context, doc *Document) error {
	if doc.ExtractedText != "" {
		vec, err := p.router.GenerateEmbedding(ctx, doc.ID, doc.ExtractedText)
		if err != nil {
			return fmt.Errorf("embed document text: %w", err)
		}
		doc.Embedding = vec
	}

	for i := range doc.Chunks {
		c := &doc.Chunks[i]
		vec, err := p.router.GenerateEmbedding(ctx, doc.ID, c.Content)
		if err != nil {
			return fmt.Errorf("embed chunk %s: %w", c.ID, err)
		}
		c.Embedding = vec
		if err := p.indexVector(ctx, c.ID, vec, map[string]any{"document_id": doc.ID, "page": c.Page, "kind": "chunk"}); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}

	for i := range doc.Images {
		img := &doc.Images[i]
		if img.Analysis == "" {
			continue
		}
		vec, err := p.router.GenerateEmbedding(ctx, doc.ID, img.Analysis)
		if err != nil {
			return fmt.Errorf("embed image analysis %s: %w", img.ID, err)
		}
		img.Embedding = vec
		if err := p.indexVector(ctx, img.ID, vec, map[string]any{"document_id": doc.ID, "page": img.Page, "kind": "image"}); err != nil {
			return fmt.Errorf("index image %s: %w", img.ID, err)
		}
	}
	return nil
}

// indexVector upserts a chunk or image embedding into the internal
// research index; a no-op when the Pipeline was built without one.
func (p *Pipeline) indexVector(ctx context.Context, id string, vec []float32, metadata map[string]any) error {
	if p.vectorIndex == nil {
		return nil
	}
	return p.vectorIndex.Upsert(ctx, p.collection, id, vec, metadata)
}

func (p *Pipeline) extractCitations(ctx context.Context, doc *Document) error {
	citations, err := p.processor.ExtractCitations(ctx, doc.ExtractedText)
	if err != nil {
		return err
	}
	doc.Citations = citations
	return nil
}
