package workflow

import (
	"fmt"
	"strings"
)

// Mermaid renders the graph as a Mermaid flowchart. Unconditional edges are
// solid, router and revision-loop edges dotted.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	fmt.Fprintf(&b, "    %s([START])\n", mermaidID(START))
	for _, name := range g.order {
		fmt.Fprintf(&b, "    %s[%s]\n", mermaidID(name), name)
	}
	fmt.Fprintf(&b, "    %s([END])\n", mermaidID(END))

	for _, from := range append([]string{START}, g.order...) {
		for _, to := range g.edges[from] {
			fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(from), mermaidID(to))
		}
		c, ok := g.routers[from]
		if !ok {
			continue
		}
		label := "route"
		if _, rev := g.revisions[from]; rev {
			label = "revise"
		}
		for _, to := range c.targets {
			fmt.Fprintf(&b, "    %s -.%s.-> %s\n", mermaidID(from), label, mermaidID(to))
		}
	}
	return b.String()
}

func mermaidID(name string) string {
	switch name {
	case START:
		return "start"
	case END:
		return "finish"
	}
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}
