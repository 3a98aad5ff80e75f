// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates application configuration.
//
// Configuration is read from a TOML file under the user's config
// directory, with environment variable overrides (RIGCHAT_*) applied on
// top and out-of-range values clamped during validation.
package config
