// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("R05PMJ - Field Inspection Synchronization Core")
	fmt.Println("==============================================")
	fmt.Println()
	fmt.Println("This module is the local-first synchronization core of the field")
	fmt.Println("inspection client: an encrypted SQLite dataset reconciled against the")
	fmt.Println("remote analysis service with optimistic versioning and bounded retry.")
	fmt.Println()
	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("  inspectstore  Encrypted local store for inspections, items and")
	fmt.Println("                sample photos (SQLite, goose migrations, AES-GCM)")
	fmt.Println("  retryx        Bounded immediate-retry executor")
	fmt.Println("  analysisapi   Typed HTTP client for the analysis backend and its")
	fmt.Println("                object storage (x-api-key auth, transport retry)")
	fmt.Println("  syncengine    Session ingestion, item lifecycle, capture pipeline,")
	fmt.Println("                result polling with versioned merge, final submission")
	fmt.Println("  imagefs       Deterministic image layout, capacity gate, retention")
	fmt.Println("  config        YAML client config and the remote settings document")
	fmt.Println()
	fmt.Println("The engine is constructed from its collaborators; see syncengine.New.")
}
