package main

import (
	"os"

	"rebalancer/cmd/internal/passphrase"
	executor "rebalancer/services/executor"
)

func main() {
	os.Exit(executor.Main(executor.WithPassphraseSource(func(envVar, file string) func() (string, error) {
		return passphrase.NewSource(envVar, file).Get
	})))
}
