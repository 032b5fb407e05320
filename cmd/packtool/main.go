// packtool is a CLI utility for inspecting showcase pack archives.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/modelrow/modelrow/internal/archive"
	"github.com/modelrow/modelrow/internal/pack"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "list", "ls":
		cmdList(args)
	case "resolve":
		cmdResolve(args)
	case "verify":
		cmdVerify(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`packtool - showcase pack archive utility

Usage:
  packtool <command> [options]

Commands:
  info <pack.zip>              Show pack contents, clips and skeleton
  list <pack.zip>              List archive members
  resolve <pack.zip> <ref>     Show what a texture reference resolves to
  verify <pack.zip>            Run the full ingestion pipeline

Examples:
  packtool info hero.zip
  packtool resolve hero.zip "C:\art\hero.fbm\body.png"
  packtool verify dances.zip`)
}

func openArchive(path string) *archive.Archive {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	a, err := archive.Open(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: packtool info <pack.zip>")
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p, release, err := pack.FromArchive(data, args[0], zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer release()

	fmt.Printf("Archive:   %s\n", args[0])
	fmt.Printf("Kind:      %s\n", p.Kind)
	fmt.Printf("Size:      %s unpacked\n", humanize.Bytes(uint64(p.SizeBytes)))
	if p.HasSignature {
		fmt.Printf("Skeleton:  %s\n", p.Signature)
	} else {
		fmt.Println("Skeleton:  (none)")
	}

	fmt.Printf("Clips:     %d\n", len(p.Clips))
	for _, c := range p.Clips {
		fmt.Printf("  %-24s %5.2fs  %d tracks\n", c.Name, c.Duration, c.Tracks)
	}

	fmt.Printf("Textures:  %d\n", len(p.TextureFileNames))
	for _, name := range p.TextureFileNames {
		fmt.Printf("  %s\n", name)
	}
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: packtool list <pack.zip>")
		os.Exit(1)
	}

	a := openArchive(fs.Arg(0))
	defer a.Release()

	for _, m := range a.Members {
		tag := ""
		if m.Name == a.ModelName {
			tag = "  [model]"
		} else if m.IsTexture {
			tag = "  [texture]"
		}
		fmt.Printf("%s%s\n", m.Name, tag)
	}
}

func cmdResolve(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: packtool resolve <pack.zip> <ref>")
		os.Exit(1)
	}

	a := openArchive(args[0])
	defer a.Release()

	got := a.Resolve(args[1])
	if got == args[1] {
		fmt.Printf("%s -> (unresolved)\n", args[1])
		os.Exit(1)
	}
	fmt.Printf("%s -> %s\n", args[1], got)
}

func cmdVerify(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: packtool verify <pack.zip>")
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// The pipeline logs texture problems as warnings; surface them here.
	log, err := zap.NewDevelopment()
	if err != nil {
		log = zap.NewNop()
	}

	p, release, err := pack.FromArchive(data, args[0], log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	release()

	fmt.Printf("OK: %s (%s, %d clips)\n", args[0], p.Kind, len(p.Clips))
}
