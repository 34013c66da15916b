package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

var version = "0.1.0-dev"

func main() {
	var manifestPath, dir string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&manifestPath, "file", "", "Path to a vocabulary manifest")
	validateCmd.StringVar(&dir, "dir", "", "Validate every manifest in a directory")

	grammarCmd := flag.NewFlagSet("grammar", flag.ExitOnError)
	grammarCmd.StringVar(&manifestPath, "file", "vocabulary.yaml", "Path to a vocabulary manifest")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'grammar' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(manifestPath, dir); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "grammar":
		grammarCmd.Parse(os.Args[2:])
		grammar, err := runGrammar(manifestPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(grammar)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(path, dir string) error {
	if dir != "" {
		catalog, err := vocab.LoadDir(dir)
		if err != nil {
			return err
		}
		for _, name := range catalog.Names() {
			fmt.Printf("vocabulary %s valid\n", name)
		}
		return nil
	}
	if path == "" {
		return fmt.Errorf("either -file or -dir is required")
	}
	v, err := vocab.Load(path)
	if err != nil {
		return err
	}
	if err := vocab.Validate(v); err != nil {
		return err
	}
	fmt.Printf("vocabulary %s valid (%d words)\n", v.Name, len(v.Words))
	return nil
}

func runGrammar(path string) (string, error) {
	v, err := vocab.Load(path)
	if err != nil {
		return "", err
	}
	if err := vocab.Validate(v); err != nil {
		return "", err
	}
	return v.Grammar(), nil
}
