// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package library manages the on-disk model file collection: scanning
// the models directory, importing and downloading model files, deleting
// them (force-unloading the live session when its backing file goes),
// and watching the directory for external changes.
package library
