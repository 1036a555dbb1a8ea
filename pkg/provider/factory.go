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

package provider

import (
	"context"
	"fmt"

	"github.com/neurocore/chapterforge/pkg/circuitbreaker"
	"github.com/neurocore/chapterforge/pkg/config"
)

// textTasks is every Task a text-capable provider is eligible for; the
// vision task is handled separately via the dedicated vision provider.
var textTasks = []Task{
	TaskMetadataExtraction,
	TaskResearchPlanning,
	TaskContentGeneration,
	TaskQualityAssessment,
	TaskFactChecking,
	TaskReview,
	TaskSummarization,
}

func newConcreteProvider(ctx context.Context, pc *config.ProviderConfig) (Provider, error) {
	switch pc.Kind {
	case config.ProviderKindAnthropic:
		return NewAnthropicProvider(pc.APIKey, pc.Model), nil
	case config.ProviderKindBedrock:
		return NewBedrockProvider(ctx, pc.Region, pc.Model, pc.Model)
	case config.ProviderKindLangchain:
		return NewLangchainProvider(pc.APIKey, pc.BaseURL, pc.Model)
	case config.ProviderKindGeminiVision:
		return NewGeminiVisionProvider(ctx, pc.APIKey, pc.Model)
	default:
		return nil, fmt.Errorf("provider: unknown kind %q for provider %q", pc.Kind, pc.Name)
	}
}

func hasCapability(p Provider, want Capability) bool {
	for _, c := range p.Capabilities() {
		if c == want {
			return true
		}
	}
	return false
}

// BuildRouter constructs every configured provider and wires them into
// a Router whose per-Task fallback chains follow cfg.ProvidersForRole
// ordering (spec.md §4.2): each text-capable provider with RolePrimary/
// Secondary/Tertiary is added, in FallbackOrder, to every text Task's
// chain it supports; the embedding task's chain is built from whichever
// of those providers support CapEmbedding; the single RoleVision entry,
// if any, becomes the Router's dedicated vision provider.
func BuildRouter(ctx context.Context, cfg *config.Config, breakers *circuitbreaker.Registry) (*Router, error) {
	chains := make(map[Task][]ChainEntry)

	for _, role := range []config.ProviderRole{config.RolePrimary, config.RoleSecondary, config.RoleTertiary} {
		for _, pc := range cfg.ProvidersForRole(role) {
			p, err := newConcreteProvider(ctx, pc)
			if err != nil {
				return nil, fmt.Errorf("provider: build %q: %w", pc.Name, err)
			}
			entry := ChainEntry{
				Provider: p,
				Rates:    CostRates{InputPer1K: pc.CostPerInputTokenK, OutputPer1K: pc.CostPerOutputTokenK},
			}

			if hasCapability(p, CapText) {
				for _, task := range textTasks {
					chains[task] = append(chains[task], entry)
				}
			}
			if hasCapability(p, CapEmbedding) {
				chains[TaskEmbedding] = append(chains[TaskEmbedding], entry)
			}
		}
	}

	var vision Provider
	if visionConfigs := cfg.ProvidersForRole(config.RoleVision); len(visionConfigs) > 0 {
		p, err := newConcreteProvider(ctx, visionConfigs[0])
		if err != nil {
			return nil, fmt.Errorf("provider: build vision %q: %w", visionConfigs[0].Name, err)
		}
		vision = p
	}

	return NewRouter(breakers, chains, vision), nil
}
