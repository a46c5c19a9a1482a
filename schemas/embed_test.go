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

package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineSchema(t *testing.T) {
	raw := PipelineSchema()
	require.NotEmpty(t, raw)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &schema), "embedded schema must be valid JSON")

	assert.Contains(t, schema, "$schema")
	assert.Contains(t, schema, "$id")
	assert.NotEmpty(t, schema["title"])

	// jobs is the one field the parser insists on; the schema must agree.
	require.Contains(t, schema, "required")
	assert.Contains(t, schema["required"], "jobs")

	defs, ok := schema["$defs"].(map[string]interface{})
	require.True(t, ok, "schema must define $defs")
	assert.Contains(t, defs, "job")
	assert.Contains(t, defs, "step")
}

func TestPipelineSchemaString(t *testing.T) {
	assert.Equal(t, string(PipelineSchema()), PipelineSchemaString())
}
