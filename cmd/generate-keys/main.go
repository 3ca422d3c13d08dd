// Command generate-keys outputs a fresh program identifier for use in server
// config files. The identifier is an ed25519 public key; the matching
// private key is printed so whoever operates the deployment can prove
// ownership of the identifier out-of-band.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Parse()

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Program Private Key: %x\n", seed)

	public := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	fmt.Printf("Program ID:          %x\n", public)
}
