package chunk

// extractSymbolEdges walks a symbol's subtree looking for call sites and,
// for class-like symbols, superclass/interface heritage. It returns one
// SymbolEdge per reference found, with From fixed to the enclosing
// symbol's name; resolving To to a concrete span is the indexer's job
// (internal/index/pipeline.go), since that requires knowing every other
// symbol in the project, not just this one file.
func extractSymbolEdges(n *Node, source []byte, language string, fromSymbol string) []SymbolEdge {
	var edges []SymbolEdge

	callType, hasCall := callNodeType(language)

	n.Walk(func(child *Node) bool {
		if hasCall && child.Type == callType {
			if callee := calleeName(child, source, language); callee != "" && callee != fromSymbol {
				edges = append(edges, SymbolEdge{From: fromSymbol, To: callee, Kind: EdgeKindCall})
			}
		}
		if heritage := heritageEdges(child, source, language, fromSymbol); heritage != nil {
			edges = append(edges, heritage...)
		}
		return true
	})

	return edges
}

// callNodeType returns the tree-sitter node type representing a function
// or method call for language.
func callNodeType(language string) (string, bool) {
	switch language {
	case "go", "typescript", "tsx", "javascript", "jsx":
		return "call_expression", true
	case "python":
		return "call", true
	default:
		return "", false
	}
}

// calleeName extracts the called function/method's bare name from a call
// node. Qualified calls (pkg.Func, obj.Method, self.method) resolve to
// the rightmost identifier, since that's what a span's Name matches.
func calleeName(call *Node, source []byte, language string) string {
	if len(call.Children) == 0 {
		return ""
	}
	fn := call.Children[0]
	return rightmostIdentifier(fn, source)
}

// rightmostIdentifier finds the last identifier-ish leaf in a (possibly
// qualified) expression node: `pkg.Func` and `obj.Method` both yield the
// trailing name.
func rightmostIdentifier(n *Node, source []byte) string {
	switch n.Type {
	case "identifier", "field_identifier", "property_identifier", "type_identifier":
		return n.GetContent(source)
	}
	for i := len(n.Children) - 1; i >= 0; i-- {
		if name := rightmostIdentifier(n.Children[i], source); name != "" {
			return name
		}
	}
	return ""
}

// heritageEdges detects class-level extends/implements relationships on
// class or interface declarations. Go has no inheritance keyword and is
// skipped.
func heritageEdges(n *Node, source []byte, language string, fromSymbol string) []SymbolEdge {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
		return jsHeritageEdges(n, source, fromSymbol)
	case "python":
		return pyHeritageEdges(n, source, fromSymbol)
	default:
		return nil
	}
}

func jsHeritageEdges(n *Node, source []byte, fromSymbol string) []SymbolEdge {
	if n.Type != "class_heritage" {
		return nil
	}
	var edges []SymbolEdge
	for _, clause := range n.Children {
		switch clause.Type {
		case "extends_clause":
			if name := rightmostIdentifier(clause, source); name != "" {
				edges = append(edges, SymbolEdge{From: fromSymbol, To: name, Kind: EdgeKindInherit})
			}
		case "implements_clause":
			for _, t := range clause.FindAllByType("type_identifier") {
				edges = append(edges, SymbolEdge{From: fromSymbol, To: t.GetContent(source), Kind: EdgeKindImplement})
			}
		}
	}
	return edges
}

func pyHeritageEdges(n *Node, source []byte, fromSymbol string) []SymbolEdge {
	if n.Type != "class_definition" {
		return nil
	}
	args := n.FindChildByType("argument_list")
	if args == nil {
		return nil
	}
	var edges []SymbolEdge
	for _, child := range args.Children {
		if child.Type == "identifier" {
			name := child.GetContent(source)
			if name == "object" {
				continue
			}
			edges = append(edges, SymbolEdge{From: fromSymbol, To: name, Kind: EdgeKindInherit})
		}
	}
	return edges
}
