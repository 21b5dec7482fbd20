package bytecode

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Disassemble writes a human-readable listing of the code object. When
// expand is set, nested code constants are listed after their parent.
func (c *CodeObject) Disassemble(w io.Writer, expand bool) error {
	var sb strings.Builder
	c.disassembleInto(&sb, expand, 0)
	_, err := io.WriteString(w, sb.String())
	return err
}

// DisassembleString is Disassemble into a string.
func (c *CodeObject) DisassembleString(expand bool) string {
	var sb strings.Builder
	c.disassembleInto(&sb, expand, 0)
	return sb.String()
}

func (c *CodeObject) disassembleInto(sb *strings.Builder, expand bool, depth int) {
	indent := strings.Repeat("    ", depth)
	fmt.Fprintf(sb, "%sDisassembly of %s (stack %d, flags %s):\n", indent, c.ObjName, c.MaxStackSize, c.Flags)

	labels := make(map[int]bool)
	for _, ins := range c.Instructions {
		if l, ok := ins.Label(); ok {
			labels[int(l)] = true
		}
	}

	lastLine := -1
	for i, ins := range c.Instructions {
		line := c.LineAt(i)
		lineCol := ""
		if line != lastLine {
			lineCol = fmt.Sprintf("%d", line)
			lastLine = line
		}
		marker := "  "
		if labels[i] {
			marker = ">>"
		}
		fmt.Fprintf(sb, "%s%6s %s %5d %s\n", indent, lineCol, marker, i, c.describeInstruction(ins))
	}

	if !expand {
		return
	}
	for _, k := range c.Constants {
		if cc, ok := k.(CodeConst); ok {
			sb.WriteString("\n")
			cc.Code.disassembleInto(sb, expand, depth)
		}
	}
}

func (c *CodeObject) describeInstruction(ins Instruction) string {
	info := GetOpcodeInfo(ins.Op)
	name := fmt.Sprintf("%-24s", info.Name)
	idx := int(ins.Arg)
	switch {
	case info.HasConst && idx < len(c.Constants):
		return fmt.Sprintf("%s%4d (%s)", name, idx, c.Constants[idx])
	case info.HasName && idx < len(c.Names):
		return fmt.Sprintf("%s%4d (%s)", name, idx, c.Names[idx])
	case info.HasLocal && idx < len(c.Varnames):
		return fmt.Sprintf("%s%4d (%s)", name, idx, c.Varnames[idx])
	case info.HasCell && idx < len(c.Cellvars)+len(c.Freevars):
		return fmt.Sprintf("%s%4d (%s)", name, idx, c.CellFreeName(idx))
	case info.HasLabel:
		return fmt.Sprintf("%s%4d (to %d)", name, idx, idx)
	}
	return strings.TrimSpace(ins.String())
}

// ---------------------------------------------------------------------------
// Structured export
// ---------------------------------------------------------------------------

// CodeSummary is a serializable view of a code object.
type CodeSummary struct {
	Name         string         `yaml:"name"`
	Source       string         `yaml:"source,omitempty"`
	FirstLine    int            `yaml:"first_line"`
	Flags        string         `yaml:"flags,omitempty"`
	ArgCount     int            `yaml:"arg_count"`
	PosOnly      int            `yaml:"posonly_arg_count,omitempty"`
	KwOnly       int            `yaml:"kwonly_arg_count,omitempty"`
	MaxStackSize int            `yaml:"max_stack_size"`
	Constants    []string       `yaml:"constants,omitempty"`
	Names        []string       `yaml:"names,omitempty"`
	Varnames     []string       `yaml:"varnames,omitempty"`
	Cellvars     []string       `yaml:"cellvars,omitempty"`
	Freevars     []string       `yaml:"freevars,omitempty"`
	Instructions []string       `yaml:"instructions"`
	Children     []*CodeSummary `yaml:"children,omitempty"`
}

// Describe builds a CodeSummary for c and every nested code constant.
func (c *CodeObject) Describe() *CodeSummary {
	s := &CodeSummary{
		Name:         c.ObjName,
		Source:       c.Source,
		FirstLine:    c.FirstLineNo,
		Flags:        c.Flags.String(),
		ArgCount:     c.ArgCount,
		PosOnly:      c.PosOnlyArgCount,
		KwOnly:       c.KwOnlyArgCount,
		MaxStackSize: c.MaxStackSize,
		Names:        c.Names,
		Varnames:     c.Varnames,
		Cellvars:     c.Cellvars,
		Freevars:     c.Freevars,
	}
	for _, k := range c.Constants {
		s.Constants = append(s.Constants, k.String())
		if cc, ok := k.(CodeConst); ok {
			s.Children = append(s.Children, cc.Code.Describe())
		}
	}
	for i, ins := range c.Instructions {
		s.Instructions = append(s.Instructions, fmt.Sprintf("%d: %s", i, c.describeInstruction(ins)))
	}
	return s
}

// WriteYAML writes the Describe tree of c as a YAML document.
func WriteYAML(w io.Writer, c *CodeObject) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Describe()); err != nil {
		return fmt.Errorf("bytecode: encode yaml: %w", err)
	}
	return enc.Close()
}
