// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine defines the contract between rigchat and the external
// inference engine.
//
// The engine is an opaque collaborator: it tokenizes, runs forward passes
// and samples. rigchat only loads models, streams completions and stops
// them. Exactly one Handle may be live at a time; the session manager
// enforces that.
package engine
