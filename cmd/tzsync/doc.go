// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for tzsync.
//
// This package implements the Cobra command hierarchy: update, status,
// prune, watch and config. Each command's core logic lives in a run*
// function taking a params struct so it can be tested without Cobra.
package cmd
