// Package main provides a one-shot utility for grant key generation.
//
// It emits the asymmetric keypair used to sign vault access grants.
package main

import (
	"os"

	"github.com/louisbranch/heirloom/internal/platform/config"
	"github.com/louisbranch/heirloom/internal/tools/grantkey"
)

func main() {
	if err := grantkey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate grant key: %v", err)
	}
}
