// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
//
// A Session is one logical conversation tab. Sessions are owned exclusively
// by the registry package; nothing outside the registry should mutate a
// Session after it has been registered.
package model
