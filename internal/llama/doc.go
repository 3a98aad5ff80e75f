// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llama implements the engine contract against the local inference
// daemon's HTTP API.
//
// The daemon runs on localhost and holds at most one loaded model. Requests
// are plain JSON; completions stream back as newline-delimited JSON. TLS is
// not used - the daemon is reachable only over the loopback interface.
package llama
