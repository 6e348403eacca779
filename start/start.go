// Package main starts the sampler.
//
//	go run ./start -env configs/env.yaml
//
// SIGUSR1 toggles recording and SIGUSR2 rotates the capture source.
package main

import (
	"log"

	"sampler"
)

func main() {
	if err := sampler.Run(); err != nil {
		log.Fatal(err)
	}
}
