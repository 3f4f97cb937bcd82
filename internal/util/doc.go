// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the campuschat client.
//
// The package deliberately has no dependencies on other internal packages
// so it can be imported from anywhere without cycles.
package util
