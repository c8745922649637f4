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

// Package worker implements the pull-based claim loop and the
// replay-driven workflow runner described in spec.md sections 4.2 and
// 4.3: a Worker repeatedly claims workflows from a Store, replays the
// registered workflow function under a Context that memoizes every
// step, sleep, and signal-wait against the store, and heartbeats each
// in-flight claim until it completes, fails, sleeps, or waits.
package worker
