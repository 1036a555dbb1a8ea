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

import "context"

// FakeProcessor is an in-memory DocumentProcessor for tests; it never
// inspects raw bytes and instead returns whatever was configured.
type FakeProcessor struct {
	Text      string
	Chunks    []Chunk
	Images    []Image
	Citations []Citation
}

// ExtractText returns the configured text and chunks.
func (f *FakeProcessor) ExtractText(ctx context.Context, raw []byte) (string, []Chunk, error) {
	return f.Text, f.Chunks, nil
}

// ExtractImages returns the configured images.
func (f *FakeProcessor) ExtractImages(ctx context.Context, raw []byte) ([]Image, error) {
	return f.Images, nil
}

// ExtractCitations returns the configured citations.
func (f *FakeProcessor) ExtractCitations(ctx context.Context, text string) ([]Citation, error) {
	return f.Citations, nil
}
