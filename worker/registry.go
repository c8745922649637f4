// Copyright 2025 Tom Barlow
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

package worker

import "encoding/json"

// Func is a registered workflow definition, erased to opaque JSON at
// its boundary so a Worker's registry can hold definitions of many
// different input/output shapes in one map. Use Define to build one
// from a typed function.
type Func func(ctx *Context, input json.RawMessage) (json.RawMessage, error)

// Define adapts a typed workflow function — taking and returning any
// JSON-serializable Go values — into a Func suitable for Registry.
// This is the boundary where the opaque wire JSON named throughout
// spec.md section 3 becomes ordinary Go values for the user's code.
func Define[I, O any](fn func(ctx *Context, input I) (O, error)) Func {
	return func(ctx *Context, rawInput json.RawMessage) (json.RawMessage, error) {
		var input I
		if len(rawInput) > 0 {
			if err := json.Unmarshal(rawInput, &input); err != nil {
				return nil, err
			}
		}

		output, err := fn(ctx, input)
		if err != nil {
			return nil, err
		}

		return json.Marshal(output)
	}
}

// Registry maps workflow name to definition.
type Registry map[string]Func
