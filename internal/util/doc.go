// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across rigchat.
//
// It contains crash-safe file writing and UTF-8 aware string truncation.
// Anything more specific belongs in the package that owns the concern.
package util
