// Copyright 2025 The CSA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fork implements the fork controller: establishing a child
// session that continues from a source session's context, either via a
// tool's native provider-level fork or a cross-tool soft context-summary
// fork.
package fork

import (
	"context"
	"fmt"
	"time"
)

// Method is the tagged variant for how a fork is carried out.
type Method string

const (
	MethodNative Method = "native"
	MethodSoft   Method = "soft"
)

// ChooseMethod is total over (sourceTool, targetTool, toolDefault): a
// cross-tool fork always forces Soft, since no tool's provider-level fork
// understands another tool's session id.
func ChooseMethod(sourceTool, targetTool string, toolDefault Method) Method {
	if sourceTool != targetTool {
		return MethodSoft
	}
	if toolDefault == "" {
		return MethodNative
	}
	return toolDefault
}

// Request describes a fork to perform.
type Request struct {
	Tool               string
	Method             Method
	ProviderSessionID  string // native fork source; empty for soft
	ParentCSASessionID string
	ParentSessionDir   string
	WorkingDir         string
	Timeout            time.Duration
}

// Resolution is what a fork produces.
type Resolution struct {
	ProviderSessionID       string // populated for native forks
	ContextPrefix           string // populated for soft forks only
	SourceSessionID         string
	SourceProviderSessionID string
}

// Transport performs the tool-specific mechanics of a native fork.
type Transport interface {
	ForkSession(ctx context.Context, req Request) (Resolution, error)
}

// ContextSummarizer extracts a bounded context summary from a source
// session directory for use as a soft fork's first-prompt prefix. The
// exact selection policy (recent messages + pinned artifacts) lives in
// the session store; this is only the contract.
type ContextSummarizer interface {
	Summarize(sessionDir string, maxChars int) (string, error)
}

// Controller orchestrates fork resolution across methods.
type Controller struct {
	Transport  Transport
	Summarizer ContextSummarizer
}

// Resolve runs the chosen fork method, bounded by req.Timeout.
func (c *Controller) Resolve(ctx context.Context, req Request, sourceSessionID, sourceProviderSessionID string) (Resolution, error) {
	switch req.Method {
	case MethodNative:
		ctx, cancel := context.WithTimeout(ctx, req.Timeout)
		defer cancel()
		res, err := c.Transport.ForkSession(ctx, req)
		if err != nil {
			return Resolution{}, fmt.Errorf("fork: native fork failed: %w", err)
		}
		res.SourceSessionID = sourceSessionID
		res.SourceProviderSessionID = sourceProviderSessionID
		return res, nil
	case MethodSoft:
		summary, err := c.Summarizer.Summarize(req.ParentSessionDir, 8000)
		if err != nil {
			return Resolution{}, fmt.Errorf("fork: soft fork summary: %w", err)
		}
		return Resolution{
			ContextPrefix:           summary,
			SourceSessionID:         sourceSessionID,
			SourceProviderSessionID: sourceProviderSessionID,
		}, nil
	default:
		return Resolution{}, fmt.Errorf("fork: unknown method %q", req.Method)
	}
}
