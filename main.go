package main

import (
	"log"

	"github.com/emsgo/dispatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatalf("emsd: %v", err)
	}
}
