package entity

import "github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"

// Seed is one well-known program entry loaded into the registry at startup.
// The table is configuration, not behavior: ops append new entries.
type Seed struct {
	Kind model.EntityKind
	Name string
}

// KnownPrograms maps program IDs of major DEX, bridge and lending programs
// to their entity kinds.
var KnownPrograms = map[string]Seed{
	// DEX
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": {Kind: model.EntityKindDEX, Name: "Raydium"},
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  {Kind: model.EntityKindDEX, Name: "Orca"},
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4":  {Kind: model.EntityKindDEX, Name: "Jupiter"},
	"JUP4Fb2cqiRUcaTHdrPC8h2gNsA2ETXiPDD33WcGuJB":  {Kind: model.EntityKindDEX, Name: "Jupiter v4"},

	// Bridges
	"worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth": {Kind: model.EntityKindBridge, Name: "Wormhole"},
	"DZnkkTmCiFWfYTfT41X3Rd1kDgozqzxWaHqsw6W4x2oe": {Kind: model.EntityKindBridge, Name: "Portal"},

	// Lending
	"So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo": {Kind: model.EntityKindLending, Name: "Solend"},
	"MFv2hWf31Z9kbCa1snEPYctwafyhdvnV7FZnsebVacA": {Kind: model.EntityKindLending, Name: "MarginFi"},
}

// DEXPrograms returns the program-ID → name table for swap metadata
// extraction.
func DEXPrograms() map[string]string {
	out := make(map[string]string)
	for id, seed := range KnownPrograms {
		if seed.Kind == model.EntityKindDEX {
			out[id] = seed.Name
		}
	}
	return out
}
