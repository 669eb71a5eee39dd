// Package model defines the provider-agnostic reasoning engine contract used by
// group participants and by auto speaker selection.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate scripted mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) live in sub packages so the orchestration
// layers stay decoupled from vendor SDKs.
package model
