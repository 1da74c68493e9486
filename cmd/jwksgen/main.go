// Command jwksgen generates the server signing keys as a JSON Web Key
// Set file consumed through IDP_JWKS_FILE.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/luikyv/go-oidc/pkg/goidc"
)

func main() {
	out := flag.String("out", "keys/server.jwks", "file to write the JWKS to")
	flag.Parse()

	jwks, err := generate()
	if err != nil {
		log.Fatal(err)
	}

	raw, err := json.MarshalIndent(jwks, "", "  ")
	if err != nil {
		log.Fatal(err)
	}

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal(err)
		}
	}
	// The set holds private keys.
	if err := os.WriteFile(*out, raw, 0o600); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %d signing keys to %s\n", len(jwks.Keys), *out)
}

func generate() (jose.JSONWebKeySet, error) {
	var jwks jose.JSONWebKeySet
	for _, alg := range []jose.SignatureAlgorithm{jose.PS256, jose.RS256} {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return jose.JSONWebKeySet{}, fmt.Errorf("generating the %s key: %w", alg, err)
		}
		jwks.Keys = append(jwks.Keys, jose.JSONWebKey{
			Key:       key,
			KeyID:     uuid.NewString(),
			Algorithm: string(alg),
			Use:       string(goidc.KeyUsageSignature),
		})
	}
	return jwks, nil
}
