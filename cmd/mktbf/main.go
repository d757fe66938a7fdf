//go:build !tinygo

package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tern/ternos/abi"
	"tern/ternos/tbf"
)

const (
	defaultOutPath = "apps.tbf"
	defaultMinRAM  = 2048
	defaultAlign   = 1024
)

func main() {
	var outPath string
	var size uint
	var align uint
	var minRAM uint
	var unsigned bool
	flag.StringVar(&outPath, "out", defaultOutPath, "Output flash image path.")
	flag.UintVar(&size, "size", 0, "Pad the image to this many bytes (0 = exact).")
	flag.UintVar(&align, "align", defaultAlign, "Align each entry with padding entries.")
	flag.UintVar(&minRAM, "minram", defaultMinRAM, "Minimum RAM each app requests (bytes).")
	flag.BoolVar(&unsigned, "unsigned", false, "Skip the SHA256 credential footer.")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: mktbf [flags] [name=]binary ...")
		os.Exit(2)
	}

	var image []byte
	for _, arg := range flag.Args() {
		name, path := splitArg(arg)
		bin, err := os.ReadFile(path)
		if err != nil {
			fatal("read %s: %v", path, err)
		}

		if align > 1 {
			if pad := padTo(uint32(len(image)), uint32(align)); pad > 0 {
				entry, err := tbf.BuildPadding(pad)
				if err != nil {
					fatal("pad before %s: %v", name, err)
				}
				image = append(image, entry...)
			}
		}

		entry, err := buildEntry(name, bin, uint32(minRAM), !unsigned)
		if err != nil {
			fatal("build %s: %v", name, err)
		}
		image = append(image, entry...)
	}

	if size > 0 {
		if uint(len(image)) > size {
			fatal("image is %d bytes, larger than -size %d", len(image), size)
		}
		tail := make([]byte, size-uint(len(image)))
		for i := range tail {
			tail[i] = 0xFF
		}
		image = append(image, tail...)
	}

	if err := os.WriteFile(outPath, image, 0o644); err != nil {
		fatal("write %s: %v", outPath, err)
	}
	fmt.Printf("wrote %s: %d app(s), %d bytes\n", outPath, flag.NArg(), len(image))
}

// buildEntry serializes one app. Signing needs two passes: the header
// bytes are part of the signed region, and they only settle once the
// credential's size is known.
func buildEntry(name string, bin []byte, minRAM uint32, sign bool) ([]byte, error) {
	b := tbf.Builder{
		Name:       name,
		Enabled:    true,
		MinimumRAM: minRAM,
		KernelVersion: &tbf.KernelVersion{
			Major: abi.VersionMajor,
			Minor: abi.VersionMinor,
		},
		Binary: bin,
	}
	if sign {
		b.Credentials = []tbf.Credential{{Format: tbf.CredentialSHA256, Data: make([]byte, 32)}}
	}
	out, err := b.Build()
	if err != nil {
		return nil, err
	}
	if !sign {
		return out, nil
	}

	hdr, err := tbf.ParseHeader(out)
	if err != nil {
		return nil, fmt.Errorf("self-check: %w", err)
	}
	sum := sha256.Sum256(out[:hdr.BinaryEndOffset()])
	b.Credentials[0].Data = sum[:]
	return b.Build()
}

// splitArg parses "name=path", defaulting the name to the file base.
func splitArg(arg string) (name, path string) {
	if i := strings.IndexByte(arg, '='); i > 0 {
		return arg[:i], arg[i+1:]
	}
	base := filepath.Base(arg)
	return strings.TrimSuffix(base, filepath.Ext(base)), arg
}

func padTo(off, align uint32) uint32 {
	rem := off % align
	if rem == 0 {
		return 0
	}
	pad := align - rem
	// A padding entry needs at least a base header.
	for pad < tbf.BaseHeaderSize {
		pad += align
	}
	return pad
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
