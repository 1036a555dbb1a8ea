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
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

// citationPattern matches parenthetical author-year citations, e.g.
// "(Smith 2020)" or "(Doe et al., 2019)".
var citationPattern = regexp.MustCompile(`\(([A-Z][\w.&' ]+?,?\s(?:et al\.,?\s)?\d{4}[a-z]?)\)`)

// chunkSize is the target rune count per TextProcessor chunk.
const chunkSize = 2000

// TextProcessor is the baseline DocumentProcessor for plain-text and
// already-extracted-text sources (spec.md §4.11 treats richer formats
// as an injected collaborator; this is the one concrete
// implementation this repo ships, since no PDF/DOCX/HTML parsing
// library appears anywhere in the example pack). It never extracts
// images, since plain text carries none.
type TextProcessor struct{}

// NewTextProcessor creates a TextProcessor.
func NewTextProcessor() *TextProcessor {
	return &TextProcessor{}
}

// ExtractText treats raw as UTF-8 text and splits it into
// chunkSize-rune chunks, one "page" per chunk.
func (TextProcessor) ExtractText(ctx context.Context, raw []byte) (string, []Chunk, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", nil, nil
	}

	var chunks []Chunk
	runes := []rune(text)
	for page, start := 1, 0; start < len(runes); page, start = page+1, start+chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		content := string(runes[start:end])
		chunks = append(chunks, Chunk{
			ID:      chunkID(content),
			Page:    page,
			Content: content,
		})
	}
	return text, chunks, nil
}

// ExtractImages always returns nil: plain text has no embedded images.
func (TextProcessor) ExtractImages(ctx context.Context, raw []byte) ([]Image, error) {
	return nil, nil
}

// ExtractCitations scans text for parenthetical author-year citations.
// It has no page information, since it runs on the already-joined full
// text rather than per-chunk.
func (TextProcessor) ExtractCitations(ctx context.Context, text string) ([]Citation, error) {
	matches := citationPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	citations := make([]Citation, 0, len(matches))
	for _, m := range matches {
		citations = append(citations, Citation{Text: strings.Trim(m, "()")})
	}
	return citations, nil
}

func chunkID(content string) string {
	sum := sha1.Sum([]byte(content))
	return "chunk_" + hex.EncodeToString(sum[:8])
}
