// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph holds the minimal operator graph handed to the backends: variables (free inputs,
// constants and operator outputs) and operator nodes.
//
// The Graph is an arena: variables and nodes are owned by the graph and referred to by their
// handles (VariableID and NodeID), which are plain indices. Handles can be used as map keys and
// stay valid independent of pointer identity, e.g. in the inputs and expected outputs of a fixture.
//
// Graphs are built once and frozen with Graph.Finalize. After that, any attempt to change them
// returns an error.
//
// # Error Handling
//
// Exported functions return errors. Internally, operator builders check shapes with asserts that
// panic, and the panics are converted to errors with exceptions.TryCatch at the exported entry
// points. Shape errors are always *shapes.ShapeMismatchError.
package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/pkg/errors"
)

// VariableID is the handle of a Variable within its Graph.
type VariableID int

// InvalidVariableID is returned along an error.
const InvalidVariableID VariableID = -1

// NodeID is the handle of a Node within its Graph.
type NodeID int

// VariableKind distinguishes free inputs, constants and values produced by operators.
type VariableKind int

const (
	// KindInput variables are free placeholders, bound only when the graph is evaluated.
	KindInput VariableKind = iota
	// KindConstant variables carry a fixed payload bound at construction.
	KindConstant
	// KindIntermediate variables are produced by an operator node.
	KindIntermediate
)

// String implements fmt.Stringer.
func (k VariableKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindConstant:
		return "constant"
	case KindIntermediate:
		return "intermediate"
	}
	return fmt.Sprintf("VariableKind(%d)", int(k))
}

// Variable is a named tensor placeholder in a graph.
type Variable struct {
	id       VariableID
	name     string
	kind     VariableKind
	shape    shapes.Shape
	order    shapes.Order
	constant *tensors.Tensor
	producer NodeID
}

// ID of the variable in its graph.
func (v *Variable) ID() VariableID { return v.id }

// Name of the variable, unique within the graph.
func (v *Variable) Name() string { return v.name }

// Kind of the variable.
func (v *Variable) Kind() VariableKind { return v.kind }

// Shape of the variable.
func (v *Variable) Shape() shapes.Shape { return v.shape }

// Order of the axes of the variable.
func (v *Variable) Order() shapes.Order { return v.order }

// Constant returns the payload of a constant variable, or nil for other kinds.
func (v *Variable) Constant() *tensors.Tensor { return v.constant }

// Producer returns the node that produces the variable, or -1 if it's not an intermediate variable.
func (v *Variable) Producer() NodeID { return v.producer }

// String implements fmt.Stringer.
func (v *Variable) String() string {
	return fmt.Sprintf("%s #%d %q %s%s", v.kind, v.id, v.name, v.shape, v.order)
}

// OpType is the type of operator of a Node.
type OpType int

const (
	// OpTypeLSTM is a forward LSTM: inputs (x, cIn, wInput, wHidden, bias), outputs (y, cOut).
	OpTypeLSTM OpType = iota
)

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op == OpTypeLSTM {
		return "LSTM"
	}
	return fmt.Sprintf("OpType(%d)", int(op))
}

// Node is an operator in the graph, with a fixed number of inputs and outputs.
type Node struct {
	id      NodeID
	opType  OpType
	inputs  []VariableID
	outputs []VariableID
}

// ID of the node in its graph.
func (n *Node) ID() NodeID { return n.id }

// OpType of the node.
func (n *Node) OpType() OpType { return n.opType }

// Inputs returns a copy of the node's input variables, in the operator's order.
func (n *Node) Inputs() []VariableID { return append([]VariableID(nil), n.inputs...) }

// Outputs returns a copy of the node's output variables, in the operator's order.
func (n *Node) Outputs() []VariableID { return append([]VariableID(nil), n.outputs...) }

// Graph is a DAG of operator nodes, from the declared input variables (and constants) to the
// declared output variables.
type Graph struct {
	name      string
	variables []*Variable
	nodes     []*Node
	byName    map[string]VariableID
	inputs    []VariableID
	outputs   []VariableID
	finalized bool
}

// New creates an empty graph with the given name.
func New(name string) *Graph {
	return &Graph{name: name, byName: make(map[string]VariableID)}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// IsFinalized returns whether the graph was frozen with Finalize.
func (g *Graph) IsFinalized() bool { return g.finalized }

func (g *Graph) assertMutable(method string) error {
	if g.finalized {
		return errors.Errorf("Graph(%q).%s: graph already finalized", g.name, method)
	}
	return nil
}

func (g *Graph) newVariable(name string, kind VariableKind, shape shapes.Shape, order shapes.Order) (VariableID, error) {
	if name == "" {
		name = fmt.Sprintf("v%d", len(g.variables))
	}
	if _, found := g.byName[name]; found {
		return InvalidVariableID, errors.Errorf("Graph(%q): variable name %q already used", g.name, name)
	}
	if err := shapes.CheckOrder(name, shape, order); err != nil {
		return InvalidVariableID, err
	}
	id := VariableID(len(g.variables))
	g.variables = append(g.variables, &Variable{id: id, name: name, kind: kind, shape: shape.Clone(), order: order, producer: -1})
	g.byName[name] = id
	return id, nil
}

// NewVariable creates a free input variable, bound only when the graph is evaluated.
// If name is empty, a unique one is generated.
func (g *Graph) NewVariable(name string, shape shapes.Shape, order shapes.Order) (VariableID, error) {
	if err := g.assertMutable("NewVariable"); err != nil {
		return InvalidVariableID, err
	}
	return g.newVariable(name, KindInput, shape, order)
}

// NewConstant creates a constant variable holding value. The shape and order are taken from value.
func (g *Graph) NewConstant(name string, value *tensors.Tensor) (VariableID, error) {
	if err := g.assertMutable("NewConstant"); err != nil {
		return InvalidVariableID, err
	}
	if value == nil {
		return InvalidVariableID, errors.Errorf("Graph(%q).NewConstant(%q): nil value", g.name, name)
	}
	id, err := g.newVariable(name, KindConstant, value.Shape(), value.Order())
	if err != nil {
		return InvalidVariableID, err
	}
	g.variables[id].constant = value.Clone()
	return id, nil
}

// Variable returns the variable for the given handle, or nil if it doesn't exist.
func (g *Graph) Variable(id VariableID) *Variable {
	if id < 0 || int(id) >= len(g.variables) {
		return nil
	}
	return g.variables[id]
}

// VariableByName returns the variable with the given name, or nil if it doesn't exist.
func (g *Graph) VariableByName(name string) *Variable {
	id, found := g.byName[name]
	if !found {
		return nil
	}
	return g.variables[id]
}

// NumVariables in the graph, including constants and intermediary values.
func (g *Graph) NumVariables() int { return len(g.variables) }

// Nodes returns the operator nodes, in the order they were created (which is a valid execution order).
func (g *Graph) Nodes() []*Node { return append([]*Node(nil), g.nodes...) }

// Inputs returns the declared input variables.
func (g *Graph) Inputs() []VariableID { return append([]VariableID(nil), g.inputs...) }

// Outputs returns the declared output variables.
func (g *Graph) Outputs() []VariableID { return append([]VariableID(nil), g.outputs...) }

func (g *Graph) checkIDs(method string, ids []VariableID) error {
	seen := make(map[VariableID]bool, len(ids))
	for _, id := range ids {
		if g.Variable(id) == nil {
			return errors.Errorf("Graph(%q).%s: unknown variable #%d", g.name, method, id)
		}
		if seen[id] {
			return errors.Errorf("Graph(%q).%s: variable %q given more than once", g.name, method, g.variables[id].name)
		}
		seen[id] = true
	}
	return nil
}

// SetInputs declares the graph inputs. They must be free (KindInput) variables.
func (g *Graph) SetInputs(ids ...VariableID) error {
	if err := g.assertMutable("SetInputs"); err != nil {
		return err
	}
	if err := g.checkIDs("SetInputs", ids); err != nil {
		return err
	}
	for _, id := range ids {
		if v := g.variables[id]; v.kind != KindInput {
			return errors.Errorf("Graph(%q).SetInputs: variable %q is a %s, only free variables can be inputs", g.name, v.name, v.kind)
		}
	}
	g.inputs = append([]VariableID(nil), ids...)
	return nil
}

// SetOutputs declares the graph outputs.
func (g *Graph) SetOutputs(ids ...VariableID) error {
	if err := g.assertMutable("SetOutputs"); err != nil {
		return err
	}
	if err := g.checkIDs("SetOutputs", ids); err != nil {
		return err
	}
	g.outputs = append([]VariableID(nil), ids...)
	return nil
}

// Finalize validates and freezes the graph: every free variable used by a node must be declared as
// input, and every output must be computable from the inputs and constants.
//
// Calling Finalize on a finalized graph is a no-op.
func (g *Graph) Finalize() error {
	if g.finalized {
		return nil
	}
	if len(g.outputs) == 0 {
		return errors.Errorf("Graph(%q).Finalize: no outputs declared", g.name)
	}
	available := make([]bool, len(g.variables))
	for _, id := range g.inputs {
		available[id] = true
	}
	for _, v := range g.variables {
		if v.kind == KindConstant {
			available[v.id] = true
		}
	}
	// Nodes are created in topological order, since their inputs must exist before them.
	for _, node := range g.nodes {
		for _, id := range node.inputs {
			if !available[id] {
				return errors.Errorf("Graph(%q).Finalize: node #%d (%s) uses %q, which is not a declared input",
					g.name, node.id, node.opType, g.variables[id].name)
			}
		}
		for _, id := range node.outputs {
			available[id] = true
		}
	}
	for _, id := range g.outputs {
		if !available[id] {
			return errors.Errorf("Graph(%q).Finalize: output %q is not reachable from the inputs", g.name, g.variables[id].name)
		}
	}
	g.finalized = true
	return nil
}

// addNode registers a node and creates its output variables. Used by the operator builders.
func (g *Graph) addNode(opType OpType, inputs []VariableID, outputNames []string, outputShapes []shapes.Shape,
	outputOrders []shapes.Order) (*Node, error) {
	node := &Node{id: NodeID(len(g.nodes)), opType: opType, inputs: append([]VariableID(nil), inputs...)}
	for ii, name := range outputNames {
		id, err := g.newVariable(name, KindIntermediate, outputShapes[ii], outputOrders[ii])
		if err != nil {
			return nil, err
		}
		g.variables[id].producer = node.id
		node.outputs = append(node.outputs, id)
	}
	g.nodes = append(g.nodes, node)
	return node, nil
}

// String returns a multi-line description of the graph.
func (g *Graph) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph %q: %d variables, %d nodes\n", g.name, len(g.variables), len(g.nodes))
	for _, v := range g.variables {
		_, _ = fmt.Fprintf(&sb, "\t%s\n", v)
	}
	for _, node := range g.nodes {
		names := func(ids []VariableID) []string {
			s := make([]string, len(ids))
			for ii, id := range ids {
				s[ii] = g.variables[id].name
			}
			return s
		}
		_, _ = fmt.Fprintf(&sb, "\tnode #%d %s(%s) -> (%s)\n", node.id, node.opType,
			strings.Join(names(node.inputs), ", "), strings.Join(names(node.outputs), ", "))
	}
	return sb.String()
}
