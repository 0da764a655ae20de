package sftp

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// KeyType names a host key algorithm for GenerateHostKey
type KeyType string

const (
	KeyEd25519 KeyType = "ed25519"
	KeyRSA     KeyType = "rsa"
	KeyECDSA   KeyType = "ecdsa"
)

// GenerateHostKey generates a new private key and returns it in PEM format.
// bitSize is used by rsa (2048, 3072, 4096) and ecdsa (256, 384, 521), ed25519 ignores it.
func GenerateHostKey(keyType KeyType, bitSize int) ([]byte, error) {
	switch keyType {
	case KeyEd25519:
		_, privateKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("error generating EdDSA private key: %w", err)
		}
		privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("error marshaling EdDSA private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyBytes}), nil

	case KeyRSA:
		validBitSizes := map[int]bool{2048: true, 3072: true, 4096: true}
		if !validBitSizes[bitSize] {
			return nil, fmt.Errorf("invalid bit size: %d", bitSize)
		}
		privateKey, err := rsa.GenerateKey(rand.Reader, bitSize)
		if err != nil {
			return nil, fmt.Errorf("error generating RSA private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}), nil

	case KeyECDSA:
		var curve elliptic.Curve
		switch bitSize {
		case 256:
			curve = elliptic.P256()
		case 384:
			curve = elliptic.P384()
		case 521:
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported bitsize: %d", bitSize)
		}
		privateKey, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("error generating ECDSA private key: %w", err)
		}
		privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("error marshaling ECDSA private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateKeyBytes}), nil
	}
	return nil, fmt.Errorf("unknown key type %q", keyType)
}

// LoadOrGenerateHostKey reads a PEM private key from path.
// If the file does not exist an ed25519 key is generated and written there, an empty path
// generates a key that is only kept in memory.
func LoadOrGenerateHostKey(path string) ([]byte, error) {
	if path != "" {
		pk, err := os.ReadFile(path)
		if err == nil {
			return pk, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading private key file: %w", err)
		}
	}
	pk, err := GenerateHostKey(KeyEd25519, 0)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := os.WriteFile(path, pk, 0600); err != nil {
			return nil, fmt.Errorf("error writing private key file: %w", err)
		}
	}
	return pk, nil
}

// parseSigner turns a PEM private key into an ssh host key
func parseSigner(pk []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(pk)
	if err != nil {
		return nil, fmt.Errorf("error parsing private key: %w", err)
	}
	return signer, nil
}
