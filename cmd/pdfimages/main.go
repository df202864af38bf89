package main

import (
	"fmt"
	"os"

	"github.com/feichai0017/pdf-image-extractor/cmd/pdfimages/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
