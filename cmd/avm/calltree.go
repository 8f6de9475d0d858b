package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xlab/treeprint"

	"github.com/colorfulnotion/avm/vm/trace"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

type callFrame struct {
	node     treeprint.Tree
	depth    int
	entry    uint32
	steps    int
	gas      uint64
	syscalls map[string]int
	end      string
}

func (f *callFrame) label() string {
	s := fmt.Sprintf("depth %d entry=0x%x steps=%d gas=%d", f.depth, f.entry, f.steps, f.gas)
	if len(f.syscalls) > 0 {
		names := make([]string, 0, len(f.syscalls))
		for n, c := range f.syscalls {
			names = append(names, fmt.Sprintf("%s×%d", n, c))
		}
		sort.Strings(names)
		s += " syscalls[" + strings.Join(names, " ") + "]"
	}
	if f.end != "" {
		s += " -> " + f.end
	}
	return s
}

// callTree rebuilds the nesting of contexts from the depth of each step.
// gas counts instruction fees only.
func callTree(steps []trace.TraceStep) treeprint.Tree {
	root := treeprint.NewWithRoot("invocation")
	var stack []*callFrame
	closeTop := func() {
		top := stack[len(stack)-1]
		top.node.SetValue(top.label())
		stack = stack[:len(stack)-1]
	}
	for i := range steps {
		st := &steps[i]
		for len(stack) > 0 && stack[len(stack)-1].depth > st.Depth {
			closeTop()
		}
		if len(stack) == 0 || stack[len(stack)-1].depth < st.Depth {
			parent := root
			if len(stack) > 0 {
				parent = stack[len(stack)-1].node
			}
			stack = append(stack, &callFrame{
				node:     parent.AddBranch(""),
				depth:    st.Depth,
				entry:    st.PC,
				syscalls: map[string]int{},
			})
		}
		top := stack[len(stack)-1]
		top.steps++
		if st.GasBefore > st.GasAfter {
			top.gas += st.GasBefore - st.GasAfter
		}
		if st.Syscall != nil {
			name := vmtypes.SyscallName(*st.Syscall)
			top.syscalls[name]++
			switch *st.Syscall {
			case vmtypes.SYSCALL_RETURN, vmtypes.SYSCALL_REVERT, vmtypes.SYSCALL_PANIC:
				top.end = name
			}
		}
		if st.PostMachineState != nil && *st.PostMachineState != vmtypes.HaltSyscall.String() {
			top.end = *st.PostMachineState
		}
	}
	for len(stack) > 0 {
		closeTop()
	}
	return root
}
