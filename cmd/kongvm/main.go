// Command kongvm compiles source code into bytecode and runs it in a
// virtual machine, or reads a previously written code cache to skip
// lexing, parsing, and compilation entirely.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/dr8co/kongvm/bytecode"
	"github.com/dr8co/kongvm/codecache"
	"github.com/dr8co/kongvm/compiler"
	"github.com/dr8co/kongvm/lexer"
	"github.com/dr8co/kongvm/parser"
	"github.com/dr8co/kongvm/repl"
	"github.com/dr8co/kongvm/runtime"
	"github.com/dr8co/kongvm/vm"
)

const version = "0.1.0"

// printUsage displays custom usage information.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, `kongvm v%s

USAGE:
    %s [OPTIONS]

DESCRIPTION:
    kongvm compiles source code into bytecode and runs it in a virtual
    machine. Without any flags, it starts an interactive REPL.

OPTIONS:
    -f, --file <path>        Execute a script file
    -e, --eval <code>        Evaluate an expression and print the result
    -d, --debug              Enable debug mode with more verbose output
    -cache <path>            Write a compiled code cache after running -f
    -from-cache <path>       Load a code cache instead of recompiling -f,
                             falling back to a normal compile if it is
                             stale or unreadable
    -v, --version            Show version information
    -h, --help               Show this help message

EXAMPLES:
    # Start interactive REPL
    %s

    # Execute a script file
    %s -f script.kong

    # Execute a script file, caching the compiled bytecode for next time
    %s -f script.kong -cache script.kongc

    # Run from a previously written cache, recompiling script.kong if stale
    %s -f script.kong -from-cache script.kongc

`, version, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage

	fileFlag := flag.String("file", "", "Execute a script file")
	evalFlag := flag.String("eval", "", "Evaluate an expression and print the result")
	debugFlag := flag.Bool("debug", false, "Enable debug mode with more verbose output")
	versionFlag := flag.Bool("version", false, "Show version information")
	cacheFlag := flag.String("cache", "", "Write a compiled code cache after running -f")
	fromCacheFlag := flag.String("from-cache", "", "Load a code cache instead of recompiling -f")

	flag.StringVar(fileFlag, "f", "", "Execute a script file")
	flag.StringVar(evalFlag, "e", "", "Evaluate an expression and print the result")
	flag.BoolVar(debugFlag, "d", false, "Enable debug mode with more verbose output")
	flag.BoolVar(versionFlag, "v", false, "Show version information")

	flag.Parse()

	if *versionFlag {
		fmt.Printf("kongvm v%s\n", version)
		return
	}

	if *fileFlag != "" {
		executeFile(*fileFlag, *debugFlag, *cacheFlag, *fromCacheFlag)
		return
	}

	if *evalFlag != "" {
		evaluateExpression(*evalFlag)
		return
	}

	username := "unknown"
	if usr, err := user.Current(); err == nil {
		username = usr.Username
	}

	repl.Start(username, repl.Options{Debug: *debugFlag})
}

// executeFile reads and executes a script file. When cachePath is set and
// the file was compiled from source, the compiled code cache is written
// before the program runs. When
// fromCachePath is set, the cache is tried first and the file is only
// parsed and compiled if the cache is missing, stale, or unreadable.
func executeFile(filename string, debug bool, cachePath, fromCachePath string) {
	cleaned := filepath.Clean(filename)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		fmt.Printf("Error getting absolute path: %s\n", err)
		os.Exit(1)
	}

	//nolint:gosec // not reading arbitrary user-controlled paths
	content, err := os.ReadFile(absolute)
	if err != nil {
		fmt.Printf("Error reading file: %s\n", err)
		os.Exit(1)
	}
	source := string(content)

	var block *bytecode.Block
	if fromCachePath != "" {
		block = loadCache(fromCachePath, source)
	}
	if block == nil {
		block = compileSource(source)
		if cachePath != "" {
			writeCache(cachePath, source, block)
		}
	}

	ctx := runtime.NewContext()
	machine := vm.New(block, ctx)
	if err := machine.Run(); err != nil {
		fmt.Printf("VM error: %s\n", err)
		os.Exit(1)
	}

	if debug {
		if top := machine.LastPoppedStackElem(); top != nil {
			fmt.Println(top.Inspect())
		}
	}
}

// loadCache attempts to read and deserialize path, returning nil (never
// exiting) on any failure so the caller falls back to compiling source.
func loadCache(path, source string) *bytecode.Block {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	block, err := codecache.Deserialize(source, data)
	if err != nil {
		fmt.Printf("Cache unusable (%s), recompiling\n", err)
		return nil
	}
	return block
}

func writeCache(path, source string, block *bytecode.Block) {
	data, err := codecache.Serialize(source, block)
	if err != nil {
		fmt.Printf("Not writing cache: %s\n", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Printf("Error writing cache: %s\n", err)
	}
}

func compileSource(source string) *bytecode.Block {
	l := lexer.New(source)
	p := parser.New(l)
	program := p.ParseProgram()
	if len(p.Errors()) != 0 {
		printParserErrors(p.Errors())
		os.Exit(1)
	}

	comp := compiler.New()
	if err := comp.Compile(program); err != nil {
		fmt.Printf("Compilation error: %s\n", err)
		os.Exit(1)
	}
	return comp.Block()
}

// evaluateExpression evaluates a single expression given on the command line.
func evaluateExpression(expr string) {
	block := compileSource(expr)

	ctx := runtime.NewContext()
	machine := vm.New(block, ctx)
	if err := machine.Run(); err != nil {
		fmt.Printf("VM error: %s\n", err)
		os.Exit(1)
	}

	top := machine.LastPoppedStackElem()
	if top != nil {
		fmt.Println(top.Inspect())
	}
}

func printParserErrors(errors []string) {
	_, _ = fmt.Fprintln(os.Stderr, "Parser errors:")
	for _, msg := range errors {
		_, _ = fmt.Fprintln(os.Stderr, "\t"+msg)
	}
}
