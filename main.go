package main

import (
	"fmt"
	"os"
	"signoff/cmd/signoff"
)

func main() {
	// Execute root
	if err := signoff.Command.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
