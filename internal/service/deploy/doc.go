// Package deploy installs extracted artifacts into deployment slots.
//
// A slot output/{project}/{target} holds exactly one build. Installing a new
// build first assembles it next to the slot, then snapshots the current slot
// into output/archives, and only after the snapshot is safely on disk swaps
// the new tree in. Calls for the same slot are serialized.
package deploy
