// Command keygen generates a secp256k1 keypair and writes both halves to
// disk: a PEM-encoded public key and a CBOR-encoded private key, named by
// a common prefix.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/djkazic/gopow/internal/keys"
)

func main() {
	prefix := flag.String("prefix", "", "file name prefix; writes <prefix>.pub.pem and <prefix>.priv.cbor")
	flag.Parse()

	if *prefix == "" {
		fmt.Fprintln(os.Stderr, "keygen: -prefix is required")
		flag.Usage()
		os.Exit(1)
	}

	priv, err := keys.NewPrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: generate key: %v\n", err)
		os.Exit(1)
	}

	pubPath := *prefix + ".pub.pem"
	privPath := *prefix + ".priv.cbor"

	if err := priv.PublicKey().SavePEM(pubPath); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: save public key: %v\n", err)
		os.Exit(1)
	}
	if err := priv.SaveCBOR(privPath); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: save private key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s and %s\n", pubPath, privPath)
}
