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

package vectorindex

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures a QdrantProvider.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantProvider is a vectorindex.Provider backed by Qdrant.
type QdrantProvider struct {
	client *qdrant.Client
	config QdrantConfig
}

// NewQdrantProvider dials Qdrant at the configured host/port. Host
// defaults to localhost, port to 6334.
func NewQdrantProvider(cfg QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect to %s:%d (check QDRANT_URL/network reachability): %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantProvider{client: client, config: cfg}, nil
}

func (p *QdrantProvider) Name() string { return "qdrant" }

func (p *QdrantProvider) ensureCollection(ctx context.Context, collection string, size uint64) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}
	return p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (p *QdrantProvider) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	if err := p.ensureCollection(ctx, collection, uint64(len(vector))); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		payload[k] = qdrant.NewValue(v)
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(id),
				Vectors: qdrant.NewVectors(vector...),
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert into %s: %w", collection, err)
	}
	return nil
}

func (p *QdrantProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (p *QdrantProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrantLimit(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		req.Filter = buildQdrantFilter(filter)
	}

	points, err := p.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search in %s: %w", collection, err)
	}
	return convertQdrantResults(points), nil
}

func (p *QdrantProvider) Delete(ctx context.Context, collection, id string) error {
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(id)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete from %s: %w", collection, err)
	}
	return nil
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

func qdrantLimit(topK int) uint64 {
	if topK <= 0 {
		return 10
	}
	return uint64(topK)
}

func buildQdrantFilter(filter map[string]any) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, val := range filter {
		conditions = append(conditions, qdrant.NewMatch(key, fmt.Sprintf("%v", val)))
	}
	return &qdrant.Filter{Must: conditions}
}

func convertQdrantResults(points []*qdrant.ScoredPoint) []Result {
	out := make([]Result, 0, len(points))
	for _, pt := range points {
		metadata := make(map[string]any, len(pt.Payload))
		var content string
		for k, v := range pt.Payload {
			val := convertQdrantValue(v)
			metadata[k] = val
			if k == "content" {
				if s, ok := val.(string); ok {
					content = s
				}
			}
		}
		out = append(out, Result{
			ID:       qdrantIDString(pt.Id),
			Score:    float64(pt.Score),
			Content:  content,
			Metadata: metadata,
		})
	}
	return out
}

func convertQdrantValue(v *qdrant.Value) any {
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := make([]any, len(kind.ListValue.Values))
		for i, item := range kind.ListValue.Values {
			items[i] = convertQdrantValue(item)
		}
		return items
	default:
		return nil
	}
}

func qdrantIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}
