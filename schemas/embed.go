// Copyright 2025 The Pipewright Authors
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

// Package schemas embeds the pipeline JSON Schema so the CLI can export
// it for editor integration and external validators.
package schemas

import (
	_ "embed"
)

//go:embed pipeline.schema.json
var pipelineSchema []byte

// PipelineSchema returns the pipeline JSON Schema as raw bytes.
func PipelineSchema() []byte {
	return pipelineSchema
}

// PipelineSchemaString returns the pipeline JSON Schema as a string.
func PipelineSchemaString() string {
	return string(pipelineSchema)
}
