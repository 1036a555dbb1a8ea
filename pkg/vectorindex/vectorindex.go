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

// Package vectorindex stores and searches the embeddings produced
// during document ingestion and consumed by the internal research
// stage.
package vectorindex

import "context"

// Result is a single vector search hit.
type Result struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]any
}

// Provider is a vector index backend.
type Provider interface {
	Name() string
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection, id string) error
	Close() error
}
