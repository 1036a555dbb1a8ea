// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// VectorStoreConfig configures the Qdrant collection backing the
// internal research index (ingested document chunks and embeddings).
type VectorStoreConfig struct {
	// Host is the Qdrant gRPC host.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port is the Qdrant gRPC port.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// APIKey authenticates to a managed Qdrant cluster; empty for a
	// local/unauthenticated instance.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`

	// VectorSize is the embedding dimensionality; must match the
	// embedding provider's output size.
	VectorSize int `yaml:"vector_size,omitempty" json:"vector_size,omitempty"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS *bool `yaml:"use_tls,omitempty" json:"use_tls,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "chapterforge_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
	if c.UseTLS == nil {
		c.UseTLS = BoolPtr(false)
	}
}

// Validate checks the vector store configuration.
func (c *VectorStoreConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("vector_size must be positive")
	}
	return nil
}
