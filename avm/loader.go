package avm

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"math"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/config"
)

// Image is a validated program image ready to be placed at the program start.
type Image struct {
	Code   []byte
	ROData []byte
	// Entry is the offset of the first instruction from the start of Code.
	Entry uint32
	Hash  common.Hash
}

var elfMagic = []byte(elf.ELFMAG)

// LoadImage accepts a flat binary or an ELF32 RISC-V executable and checks it
// against the configured size limits.
func LoadImage(b []byte, cfg *config.Config) (*Image, error) {
	var (
		img *Image
		err error
	)
	if bytes.HasPrefix(b, elfMagic) {
		img, err = loadELF(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", avmerrors.ErrInvalidInput, err)
		}
	} else {
		img = &Image{Code: append([]byte(nil), b...)}
	}
	if uint64(len(img.Code)) > uint64(cfg.CodeSizeLimit) {
		return nil, fmt.Errorf("code is %d bytes, limit %d: %w", len(img.Code), cfg.CodeSizeLimit, avmerrors.ErrCodeTooLarge)
	}
	if uint64(len(img.ROData)) > uint64(cfg.RODataSizeLimit) {
		return nil, fmt.Errorf("rodata is %d bytes, limit %d: %w", len(img.ROData), cfg.RODataSizeLimit, avmerrors.ErrCodeTooLarge)
	}
	if img.Entry%2 != 0 || (len(img.Code) > 0 && img.Entry >= uint32(len(img.Code))) {
		return nil, fmt.Errorf("entry offset 0x%x outside code: %w", img.Entry, avmerrors.ErrInvalidInput)
	}
	img.Hash = common.Blake2Hash(append(append([]byte(nil), img.Code...), img.ROData...))
	return img, nil
}

// loadELF flattens the PT_LOAD segments relative to the lowest virtual address.
// Everything up to the end of the last executable segment is code; the rest
// is read-only data.
func loadELF(b []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS32 || f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("not an ELF32 RISC-V file (%s, %s)", f.Class, f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("ELF type %s is not executable", f.Type)
	}

	var loads []*elf.Prog
	lo, hi := uint64(math.MaxUint64), uint64(0)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		loads = append(loads, p)
		lo = min(lo, p.Vaddr)
		hi = max(hi, p.Vaddr+p.Memsz)
	}
	if len(loads) == 0 {
		return nil, fmt.Errorf("no loadable segments")
	}
	if hi-lo > math.MaxInt32 {
		return nil, fmt.Errorf("segments span 0x%x bytes", hi-lo)
	}

	flat := make([]byte, hi-lo)
	var codeEnd uint64
	for _, p := range loads {
		if p.Filesz > p.Memsz {
			return nil, fmt.Errorf("segment at 0x%x: file size exceeds memory size", p.Vaddr)
		}
		off := p.Vaddr - lo
		if _, err := io.ReadFull(p.Open(), flat[off:off+p.Filesz]); err != nil {
			return nil, fmt.Errorf("segment at 0x%x: %v", p.Vaddr, err)
		}
		if p.Flags&elf.PF_X != 0 {
			codeEnd = max(codeEnd, off+p.Memsz)
		}
	}
	if f.Entry < lo || f.Entry >= hi {
		return nil, fmt.Errorf("entry 0x%x outside the loaded segments", f.Entry)
	}
	return &Image{
		Code:   flat[:codeEnd],
		ROData: flat[codeEnd:],
		Entry:  uint32(f.Entry - lo),
	}, nil
}
