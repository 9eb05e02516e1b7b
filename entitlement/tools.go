// Package entitlement decides which tools a user may run. It keeps the
// license obtained from a verified payment, the chosen tool slots, and the
// state machine that moves between free and premium.
package entitlement

import (
	"fmt"
	"strings"
)

// Tool identifies one gated tool.
type Tool string

const (
	ToolRotate    Tool = "rotate"
	ToolMerge     Tool = "merge"
	ToolSplit     Tool = "split"
	ToolDelete    Tool = "delete"
	ToolDuplicate Tool = "duplicate"
	ToolWatermark Tool = "watermark"
	ToolCompress  Tool = "compress"
	ToolPassword  Tool = "password"
	ToolOCR       Tool = "ocr"
	ToolSignature Tool = "signature"
	ToolConvert   Tool = "convert"
)

var allTools = []Tool{
	ToolRotate, ToolMerge, ToolSplit, ToolDelete, ToolDuplicate,
	ToolWatermark, ToolCompress, ToolPassword, ToolOCR,
	ToolSignature, ToolConvert,
}

// AllTools lists every tool in display order.
func AllTools() []Tool { return append([]Tool(nil), allTools...) }

// DefaultTools is the active set of a fresh install.
func DefaultTools() []Tool { return []Tool{ToolRotate, ToolMerge, ToolSplit} }

func (t Tool) Valid() bool {
	for _, k := range allTools {
		if k == t {
			return true
		}
	}
	return false
}

func ParseTool(s string) (Tool, error) {
	t := Tool(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, s)
	}
	return t, nil
}
