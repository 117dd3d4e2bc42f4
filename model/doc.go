// Package model defines the shared leaf types passed between the engine and
// its collaborators: parsed emails, committed record metadata, classifier
// predictions, and duplicate matches.
//
// The package is dependency-free so that providers (embedding, classify) and
// storage layers can all import it without cycles.
package model
