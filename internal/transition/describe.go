package transition

import (
	"fmt"
	"io"
	"strings"
)

func describeMachine[S state](w io.Writer, m machine[S]) {
	fmt.Fprintf(w, "%s\n", m.entity)
	for i, targets := range m.table {
		from := S(i)
		if len(targets) == 0 {
			fmt.Fprintf(w, "  %s -> (terminal)\n", from)
			continue
		}
		fmt.Fprintf(w, "  %s -> %s\n", from, strings.Join(m.names(targets), ", "))
	}
	if len(m.order) > 0 {
		fmt.Fprintf(w, "  forbidden:\n")
		for _, r := range m.order {
			fmt.Fprintf(w, "    %s -> %s [%s]\n", r.From, r.To, r.Category)
		}
	}
}

// Describe writes every table and forbidden list in declaration order.
func Describe(w io.Writer) {
	describeMachine(w, paymentMachine)
	fmt.Fprintln(w)
	describeMachine(w, sessionMachine)
	fmt.Fprintln(w)
	describeMachine(w, videoMachine)
	fmt.Fprintln(w)
	describeMachine(w, refundMachine)
}
