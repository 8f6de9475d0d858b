package program

import (
	"encoding/binary"
)

// Line is one entry of a linear disassembly.
type Line struct {
	PC   uint32
	Raw  uint32
	Size uint8
	Inst Instruction
	Err  error
}

// Disassemble sweeps code linearly from its first byte, which is placed at
// base. Undecodable halfwords are reported with Err set and skipped.
func Disassemble(code []byte, base uint32) []Line {
	var lines []Line
	for off := 0; off+2 <= len(code); {
		lo := binary.LittleEndian.Uint16(code[off:])
		var hi uint16
		if !IsCompressed(lo) && off+4 <= len(code) {
			hi = binary.LittleEndian.Uint16(code[off+2:])
		}
		inst, err := DecodeAt(lo, hi)
		line := Line{PC: base + uint32(off), Raw: uint32(lo) | uint32(hi)<<16, Inst: inst, Err: err}
		switch {
		case err == nil:
			line.Size = inst.Size
		case IsCompressed(lo):
			line.Size, line.Raw = 2, uint32(lo)
		default:
			line.Size = 4
		}
		lines = append(lines, line)
		off += int(line.Size)
	}
	return lines
}

// ProgramStats contains static statistics about a code image
type ProgramStats struct {
	InstructionCount   int            // decodable instructions
	CompressedCount    int            // of which 16-bit
	InvalidCount       int            // undecodable slots
	BasicBlockCount    int            // block leaders in the linear sweep
	OpcodeDistribution map[Opcode]int // Distribution of opcodes
	ClassDistribution  map[Class]int
}

// Analyze disassembles code and returns statistics including instruction
// count and basic block count
func Analyze(code []byte) *ProgramStats {
	stats := &ProgramStats{
		OpcodeDistribution: make(map[Opcode]int),
		ClassDistribution:  make(map[Class]int),
	}
	leader := true
	for _, l := range Disassemble(code, 0) {
		if l.Err != nil {
			stats.InvalidCount++
			leader = true
			continue
		}
		stats.InstructionCount++
		if l.Inst.Compressed {
			stats.CompressedCount++
		}
		if leader {
			stats.BasicBlockCount++
		}
		stats.OpcodeDistribution[l.Inst.Op]++
		stats.ClassDistribution[l.Inst.Class()]++
		leader = IsBasicBlockTerminator(l.Inst.Op)
	}
	return stats
}
